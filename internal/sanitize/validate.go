package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validation errors for script path checks.
var (
	// ErrPathTraversal indicates a path contains directory traversal sequences.
	ErrPathTraversal = errors.New("path contains directory traversal")

	// ErrAbsolutePath indicates an absolute path was provided where relative was expected.
	ErrAbsolutePath = errors.New("absolute path not allowed")

	// ErrEmptyPath indicates an empty path was provided.
	ErrEmptyPath = errors.New("path cannot be empty")
)

// JoinWithin joins a relative path onto root and verifies the result
// stays inside root. It resolves tool scripts against their
// base directories and snapshot names against the versions directory.
func JoinWithin(root, rel string) (string, error) {
	if rel == "" {
		return "", ErrEmptyPath
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrAbsolutePath, rel)
	}
	if strings.Contains(rel, "..") {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, rel)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root %s: %w", root, err)
	}
	joined := filepath.Join(absRoot, rel)

	relCheck, err := filepath.Rel(absRoot, joined)
	if err != nil || strings.HasPrefix(relCheck, "..") {
		return "", fmt.Errorf("%w: %s escapes %s", ErrPathTraversal, rel, root)
	}
	return joined, nil
}
