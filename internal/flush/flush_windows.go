//go:build windows

package flush

import (
	"os"

	"golang.org/x/sys/windows"
)

// File flushes f's dirty pages down to the device.
func File(f *os.File) error {
	return windows.FlushFileBuffers(windows.Handle(f.Fd()))
}
