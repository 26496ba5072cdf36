package sandbox

import "errors"

var (
	// ErrOutsideSandbox is returned when a canonical path is not contained in
	// any allowed root.
	ErrOutsideSandbox = errors.New("path outside allowed directories")

	// ErrNotFound is returned when a path that must exist does not.
	ErrNotFound = errors.New("path does not exist")

	// ErrUnresolvable is returned when a candidate cannot be canonicalized,
	// e.g. a symlink loop or an unreadable parent.
	ErrUnresolvable = errors.New("path cannot be resolved")

	// ErrNoRoots is returned by New when the allow-list is empty.
	ErrNoRoots = errors.New("no allowed directories configured")

	// ErrInvalidRoot is returned by New when a root cannot be bound.
	ErrInvalidRoot = errors.New("invalid allowed directory")
)
