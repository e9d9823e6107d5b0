// Package codec defines the error categories shared by the image codecs.
package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrIO marks failures to open, read, write or close a file.
	ErrIO = errors.New("image i/o failed")
	// ErrFormat marks bytes that are present but structurally invalid.
	ErrFormat = errors.New("malformed image data")
)

// IOError wraps err as an ErrIO for the given operation and path. The
// underlying error stays reachable through errors.Is/As.
func IOError(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrIO, op, path, err)
}

// FormatError builds an ErrFormat with a short reason.
func FormatError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}
