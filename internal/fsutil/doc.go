// Package fsutil provides the durable-file primitives shared by the
// opsloop stores: atomic whole-file replacement, single-line appends and
// an advisory cross-process lock.
//
// Every store in opsloop follows the same discipline: take the store's
// lock, read the whole file, modify in memory, then replace the file with
// WriteFileAtomic. Readers never take the lock and may observe either the
// pre- or post-write file, never a torn one.
package fsutil
