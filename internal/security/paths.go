package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrRestrictedPath is returned when a path points into kernel or device
// pseudo-filesystems (/proc, /sys, /dev).
var ErrRestrictedPath = errors.New("access to restricted path is not allowed")

// restrictedPrefixes are never reachable through a tool, even when an
// allowed root contains them.
var restrictedPrefixes = []string{"/proc", "/sys", "/dev"}

// ValidatePath rejects canonical paths that fall inside a restricted
// pseudo-filesystem. It expects an already canonical absolute path.
func ValidatePath(path string) error {
	cleaned := filepath.ToSlash(filepath.Clean(path))
	normalized := strings.ToLower(cleaned)

	for _, prefix := range restrictedPrefixes {
		if normalized == prefix || strings.HasPrefix(normalized, prefix+"/") {
			return fmt.Errorf("%w: %s", ErrRestrictedPath, path)
		}
	}
	return nil
}
