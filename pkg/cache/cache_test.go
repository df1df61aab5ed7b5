package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// memEnvelope is a minimal in-memory image.Envelope test double.
type memEnvelope struct {
	b    []byte
	info string
}

func (m *memEnvelope) Size() (int64, error) { return int64(len(m.b)), nil }
func (m *memEnvelope) Close() error         { return nil }
func (m *memEnvelope) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.b[off:])
	return n, nil
}
func (m *memEnvelope) WriteAt(p []byte, off int64) (int, error) {
	n := copy(m.b[off:], p)
	return n, nil
}
func (m *memEnvelope) InfofileContent() (string, error) { return m.info, nil }

func TestCacheReadThroughUntilDiverted(t *testing.T) {
	dir := t.TempDir()
	src := &memEnvelope{b: bytes.Repeat([]byte{0xAB}, 3*BlockSize+10), info: "source"}

	c, err := Open(filepath.Join(dir, "cache.bin"), src, true)
	require.NoError(t, err)
	defer c.Close()

	out := make([]byte, 16)
	_, err = c.ReadAt(out, 100)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0xAB}, 16), out)

	content, err := c.InfofileContent()
	require.NoError(t, err)
	require.Equal(t, "source", content)
}

func TestCacheWholeBlockWriteDivertsAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.bin")
	src := &memEnvelope{b: bytes.Repeat([]byte{0x00}, 2*BlockSize)}

	c, err := Open(path, src, true)
	require.NoError(t, err)

	newBlock := bytes.Repeat([]byte{0xCC}, BlockSize)
	_, err = c.WriteAt(newBlock, BlockSize)
	require.NoError(t, err)

	// source is untouched: the write was diverted, not applied underneath.
	require.Equal(t, byte(0x00), src.b[BlockSize])

	out := make([]byte, BlockSize)
	_, err = c.ReadAt(out, BlockSize)
	require.NoError(t, err)
	require.Equal(t, newBlock, out)
	require.NoError(t, c.Close())

	// Reopening without overwrite must recover the diverted block.
	c2, err := Open(path, src, false)
	require.NoError(t, err)
	defer c2.Close()

	out2 := make([]byte, BlockSize)
	_, err = c2.ReadAt(out2, BlockSize)
	require.NoError(t, err)
	require.Equal(t, newBlock, out2)

	// The untouched first block still reads through to source.
	first := make([]byte, 4)
	_, err = c2.ReadAt(first, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x00}, first)
}

func TestCachePartialWriteReadModifyWrite(t *testing.T) {
	dir := t.TempDir()
	src := &memEnvelope{b: bytes.Repeat([]byte{0x11}, BlockSize)}

	c, err := Open(filepath.Join(dir, "cache.bin"), src, true)
	require.NoError(t, err)
	defer c.Close()

	patch := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	_, err = c.WriteAt(patch, 100)
	require.NoError(t, err)

	out := make([]byte, BlockSize)
	_, err = c.ReadAt(out, 0)
	require.NoError(t, err)
	require.Equal(t, patch, out[100:104])
	require.Equal(t, byte(0x11), out[0])
	require.Equal(t, byte(0x11), out[BlockSize-1])
}

func TestCacheSecondWriteToSameBlockOverwritesInPlace(t *testing.T) {
	dir := t.TempDir()
	src := &memEnvelope{b: bytes.Repeat([]byte{0x00}, BlockSize)}

	c, err := Open(filepath.Join(dir, "cache.bin"), src, true)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.WriteAt([]byte{0x01, 0x02}, 10)
	require.NoError(t, err)
	_, err = c.WriteAt([]byte{0x03, 0x04}, 20)
	require.NoError(t, err)

	out := make([]byte, BlockSize)
	_, err = c.ReadAt(out, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02}, out[10:12])
	require.Equal(t, []byte{0x03, 0x04}, out[20:22])
}

func TestCacheRejectsBadMagicOrVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.bin")
	src := &memEnvelope{b: bytes.Repeat([]byte{0x00}, BlockSize)}

	c, err := Open(path, src, true)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{'X'}, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(path, src, false)
	require.Error(t, err)
}

func TestCacheRejectsMismatchedEnvelopeSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.bin")
	src := &memEnvelope{b: bytes.Repeat([]byte{0x00}, BlockSize)}

	c, err := Open(path, src, true)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	grown := &memEnvelope{b: bytes.Repeat([]byte{0x00}, 2*BlockSize)}
	_, err = Open(path, grown, false)
	require.Error(t, err)
}

func TestCacheRejectsOutOfRangeAccess(t *testing.T) {
	dir := t.TempDir()
	src := &memEnvelope{b: bytes.Repeat([]byte{0x00}, BlockSize)}

	c, err := Open(filepath.Join(dir, "cache.bin"), src, true)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.ReadAt(make([]byte, 1), BlockSize)
	require.Error(t, err)

	_, err = c.WriteAt(make([]byte, 2), BlockSize-1)
	require.Error(t, err)
}
