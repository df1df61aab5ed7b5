// Package xerr classifies pipeline failures into a small taxonomy and
// translates them to POSIX errno only at the external boundary; every
// layer in between propagates the wrapped cause verbatim (via
// github.com/pkg/errors) so Classify can recover it.
package xerr

import (
	"syscall"

	"github.com/pkg/errors"
)

// Class identifies which of four failure buckets an error belongs to.
type Class int

const (
	// ClassIO covers I/O failures and container corruption: bad
	// signatures, checksum mismatches, out-of-order sections, failed
	// decompression, cache index/block corruption.
	ClassIO Class = iota
	// ClassArgument covers bad arguments: null handle, out-of-range
	// read, bad option strings.
	ClassArgument
	// ClassResource covers allocation failure.
	ClassResource
	// ClassUnsupported covers encrypted containers, unknown versions,
	// and unknown requested formats.
	ClassUnsupported
)

// classified wraps an underlying cause with a fixed classification.
type classified struct {
	class Class
	cause error
}

func (c *classified) Error() string { return c.cause.Error() }
func (c *classified) Unwrap() error { return c.cause }

// Wrap classifies cause (which may be nil, in which case Wrap returns
// nil) and attaches a message via pkg/errors so the call stack survives
// for debugging while Classify still recovers the bucket.
func Wrap(class Class, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &classified{class: class, cause: errors.Wrap(cause, msg)}
}

// Wrapf is Wrap with a format string.
func Wrapf(class Class, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &classified{class: class, cause: errors.Wrapf(cause, format, args...)}
}

// New creates a new classified error with no prior cause.
func New(class Class, msg string) error {
	return &classified{class: class, cause: errors.New(msg)}
}

// classOf walks the error chain looking for a *classified marker.
func classOf(err error) (Class, bool) {
	for err != nil {
		if c, ok := err.(*classified); ok {
			return c.class, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0, false
		}
		err = u.Unwrap()
	}
	return 0, false
}

// Classify maps err to the POSIX errno used at the boundary (FUSE
// handlers, CLI exit code). Unclassified errors default to EIO.
func Classify(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	class, ok := classOf(err)
	if !ok {
		return syscall.EIO
	}
	switch class {
	case ClassArgument:
		return syscall.EINVAL
	case ClassResource:
		return syscall.ENOMEM
	case ClassUnsupported:
		return syscall.ENOTSUP
	default:
		return syscall.EIO
	}
}
