//go:build windows

package mmap

import "os"

// Map reads the entire file; Windows evidence segments are typically
// small enough per-segment that a full read is an acceptable fallback
// relative to implementing MapViewOfFile.
func Map(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, func() error { return nil }, err
	}
	return data, func() error { return nil }, nil
}
