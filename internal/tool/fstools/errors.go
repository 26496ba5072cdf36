package fstools

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrAlreadyExists is returned when a tool refuses to overwrite an
	// existing destination.
	ErrAlreadyExists = errors.New("destination already exists")

	// ErrIO is matched by every *IOError.
	ErrIO = errors.New("filesystem error")

	// ErrNotDirectory is returned when a directory was expected.
	ErrNotDirectory = errors.New("not a directory")

	// ErrNotRegular is returned when a regular file was expected.
	ErrNotRegular = errors.New("not a regular file")

	// ErrNotText is returned when a file is not valid UTF-8 text.
	ErrNotText = errors.New("not a UTF-8 text file")

	// ErrNoMatch is returned when an edit's old text is not found.
	ErrNoMatch = errors.New("could not find exact match for edit")

	// ErrArchiveTooLarge is returned when extraction exceeds the size cap.
	ErrArchiveTooLarge = errors.New("archive expands beyond the extraction limit")
)

// IOError is an underlying filesystem failure on a validated path.
// It is surfaced as is and never retried.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrIO) match.
func (e *IOError) Is(target error) bool { return target == ErrIO }

// ioErr wraps err for path. The path is taken from the IOError, so the
// duplicate one carried by *fs.PathError is dropped.
func ioErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var pe *fs.PathError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	return &IOError{Op: op, Path: path, Err: err}
}
