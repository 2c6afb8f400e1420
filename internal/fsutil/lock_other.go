//go:build !unix

package fsutil

import "os"

// Non-unix builds rely on the in-process mutex only.
func lockFile(*os.File) error   { return nil }
func unlockFile(*os.File) error { return nil }
