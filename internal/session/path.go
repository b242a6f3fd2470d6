package session

import (
	"path/filepath"
	"strings"
)

// Contains reports whether child is parent itself or nested anywhere under
// it. Both paths must already be canonical (see Canonicalize); the check is
// a path-component containment test, not a string prefix match, so
// "/work/app" does not contain "/work/app2".
func Contains(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Canonicalize makes path absolute, resolves symlinks when the target
// exists and strips trailing separators. Symlink resolution is best-effort:
// a path that does not exist yet is still canonicalized lexically.
func Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return filepath.Clean(abs), nil
}
