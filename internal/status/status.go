// Package status models the small error taxonomy the mirrored storage core
// surfaces to its callers: ok (nil), not-found, corruption, I/O error, and
// invalid argument.
package status

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by lookups that find nothing cached or on disk.
	ErrNotFound = errors.New("not found")

	// ErrCorruption is returned when an on-disk structure fails validation.
	ErrCorruption = errors.New("corruption")

	// ErrInvalidArgument is returned for out-of-range reads or malformed calls.
	ErrInvalidArgument = errors.New("invalid argument")
)

// IOError wraps a syscall failure with the path it occurred on, mirroring
// env_posix.cc's IOError(context, errno) helper.
func IOError(path string, err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("io error: %q: %w", path, err)
}

// IOErrorf is IOError with a formatted context string instead of a bare path.
func IOErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("io error: %s: %w", fmt.Sprintf(format, args...), err)
}

// Corruptionf wraps ErrCorruption with a formatted reason.
func Corruptionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruption, fmt.Sprintf(format, args...))
}

// InvalidArgumentf wraps ErrInvalidArgument with a formatted reason.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with a formatted reason.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// IsNotFound reports whether err (or one it wraps) is ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsCorruption reports whether err (or one it wraps) is ErrCorruption.
func IsCorruption(err error) bool { return errors.Is(err, ErrCorruption) }

// IsInvalidArgument reports whether err (or one it wraps) is ErrInvalidArgument.
func IsInvalidArgument(err error) bool { return errors.Is(err, ErrInvalidArgument) }
