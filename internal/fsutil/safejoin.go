package fsutil

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SafeJoin joins rel under base, rejecting absolute paths and anything
// that resolves outside base. Archive paths are validated upstream; this
// is the sink-side guard.
func SafeJoin(base, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute path not allowed: %s", rel)
	}
	cleanRel := filepath.Clean(filepath.FromSlash(rel))
	if cleanRel == ".." || strings.HasPrefix(cleanRel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base: %s", rel)
	}
	joined := filepath.Join(base, cleanRel)
	baseClean := filepath.Clean(base)
	if joined != baseClean && !strings.HasPrefix(joined, baseClean+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base: %s", rel)
	}
	return joined, nil
}
