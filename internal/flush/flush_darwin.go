//go:build darwin

package flush

import (
	"os"

	"golang.org/x/sys/unix"
)

// File flushes f's dirty pages down to the device. macOS lacks
// fdatasync; F_FULLFSYNC is the durable equivalent used elsewhere in
// the pack (hive/dirty/flush_darwin.go) for power-loss safety.
func File(f *os.File) error {
	_, err := unix.FcntlInt(f.Fd(), unix.F_FULLFSYNC, 0)
	if err != nil {
		return unix.Fsync(int(f.Fd()))
	}
	return nil
}
