//go:build unix

// Package mmap provides read-only memory-mapping of evidence segment
// files. The input plug-ins in this module (EWF, QCOW2, VDI, raw) read
// through *os.File and do not import it. Segments are opened
// read-only and never migrate once mapped; the returned slice must
// not be retained past the accompanying close function's call.
package mmap

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// Map maps the file at path read-only and returns its contents along
// with a close function that unmaps it. Evidence files are never
// written to, so PROT_READ/MAP_SHARED is always correct here.
func Map(path string) ([]byte, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close() // safe before return; the mapping keeps pages alive

	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	size := info.Size()
	if size == 0 {
		return []byte{}, func() error { return nil }, nil
	}
	if size > int64(^uint(0)>>1) {
		return nil, nil, fmt.Errorf("mmap: file too large to map (%d bytes)", size)
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error {
		if data == nil {
			return nil
		}
		err := syscall.Munmap(data)
		if errors.Is(err, syscall.EINVAL) {
			return nil
		}
		return err
	}
	return data, cleanup, nil
}
