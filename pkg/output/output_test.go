package output

import "github.com/xmount-go/xmount/pkg/image"

// memImage is a minimal in-memory image.Image used across this
// package's tests to stand in for a morphed body.
type memImage struct {
	b      []byte
	closed bool
}

func (m *memImage) Size() (int64, error) { return int64(len(m.b)), nil }
func (m *memImage) Close() error         { m.closed = true; return nil }
func (m *memImage) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.b[off:])
	return n, nil
}
