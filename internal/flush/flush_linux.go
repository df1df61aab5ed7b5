//go:build linux || freebsd

// Package flush provides durable-write helpers for the copy-on-write
// block cache file: every mutation is flushed to the device before the
// cache reports success.
package flush

import (
	"os"

	"golang.org/x/sys/unix"
)

// File flushes f's dirty pages down to the device.
func File(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
