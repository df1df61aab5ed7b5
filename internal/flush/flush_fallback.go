//go:build !linux && !freebsd && !darwin && !windows

package flush

import "os"

// File flushes f via the portable os.File.Sync.
func File(f *os.File) error {
	return f.Sync()
}
