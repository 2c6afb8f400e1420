// Package sanitize maps untrusted identifiers onto safe file names and
// validates relative script paths.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxFileNameLength bounds the base name produced by FileName, leaving
	// room for an extension on every common filesystem.
	MaxFileNameLength = 120

	// HashSuffixLength is the length of the "_<8 hex>" uniqueness suffix.
	HashSuffixLength = 9

	// DefaultFileName is used when sanitization produces an empty result.
	DefaultFileName = "default"
)

// FileName converts an identifier (for example a session id) into a base
// file name made of [A-Za-z0-9_-].
//
// Identifiers that are already safe are returned unchanged. Any
// identifier that needed rewriting gets a hash suffix of the original so
// that two different ids never collapse onto the same file:
//
//	"sess_42"        -> "sess_42"
//	"wa:+33 6 12"    -> "wa_33_6_12_1f2e3d4c"
//	"../etc/passwd"  -> "etc_passwd_9a8b7c6d"
func FileName(id string) string {
	if id == "" {
		return DefaultFileName
	}

	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if isSafeRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := b.String()
	for strings.Contains(cleaned, "__") {
		cleaned = strings.ReplaceAll(cleaned, "__", "_")
	}
	cleaned = strings.Trim(cleaned, "_-")

	if cleaned == id && len(cleaned) <= MaxFileNameLength {
		return cleaned
	}
	if cleaned == "" {
		cleaned = DefaultFileName
	}

	maxBase := MaxFileNameLength - HashSuffixLength
	if len(cleaned) > maxBase {
		cleaned = strings.TrimRight(cleaned[:maxBase], "_-")
	}
	return cleaned + "_" + shortHash(id)
}

func isSafeRune(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '_' || r == '-'
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}
