package vdi

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xmount-go/xmount/internal/wire"
)

const testBlockSize = 512

// buildDynamicImage writes a minimal dynamic VDI with blocksInImage
// blocks, where block 0 holds data and block 1 is unallocated.
func buildDynamicImage(t *testing.T, dir string, block0 []byte) string {
	t.Helper()
	require.Len(t, block0, testBlockSize)
	path := filepath.Join(dir, "disk.vdi")

	blocksInImage := uint32(2)
	offsetBmap := int64(headerSize)
	offsetData := offsetBmap + int64(blocksInImage)*4

	buf := make([]byte, headerSize)
	wire.PutU32LE(buf, headerTextSize, signature)
	wire.PutU32LE(buf, headerTextSize+4, 1<<16) // version 1.x
	wire.PutU32LE(buf, headerTextSize+12, imageTypeDynamic)
	fieldsOff := headerTextSize + 20 + headerDescriptionSize
	wire.PutU32LE(buf, fieldsOff, uint32(offsetBmap))
	wire.PutU32LE(buf, fieldsOff+4, uint32(offsetData))
	wire.PutU32LE(buf, fieldsOff+20, testBlockSize) // sectorSize (unused by reader, kept consistent)
	wire.PutU64LE(buf, fieldsOff+28, uint64(testBlockSize)*uint64(blocksInImage))
	wire.PutU32LE(buf, fieldsOff+36, testBlockSize) // blockSize
	wire.PutU32LE(buf, fieldsOff+40, 0)             // blockExtra
	wire.PutU32LE(buf, fieldsOff+44, blocksInImage)

	var out bytes.Buffer
	out.Write(buf)

	bmap := make([]byte, 8)
	wire.PutU32LE(bmap, 0, 0)                // block 0: physical block index 0
	wire.PutU32LE(bmap, 4, blockUnallocated) // block 1: unallocated
	out.Write(bmap)

	out.Write(block0)

	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
	return path
}

func TestReadDynamicBlocks(t *testing.T) {
	dir := t.TempDir()
	block0 := bytes.Repeat([]byte{0x7A}, testBlockSize)
	path := buildDynamicImage(t, dir, block0)

	img, err := New([]string{path}, 0, 0, "")
	require.NoError(t, err)
	defer img.Close()

	size, err := img.Size()
	require.NoError(t, err)
	require.EqualValues(t, testBlockSize*2, size)

	out := make([]byte, testBlockSize)
	_, err = img.ReadAt(out, 0)
	require.NoError(t, err)
	require.Equal(t, block0, out)

	zeroOut := make([]byte, testBlockSize)
	_, err = img.ReadAt(zeroOut, testBlockSize)
	require.NoError(t, err)
	require.Equal(t, make([]byte, testBlockSize), zeroOut)
}

func TestRejectsBadSignature(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.vdi")
	require.NoError(t, os.WriteFile(path, make([]byte, headerSize), 0o644))

	_, err := New([]string{path}, 0, 0, "")
	require.Error(t, err)
}
