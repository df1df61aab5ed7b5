package morph

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xmount-go/xmount/internal/wire"
	"github.com/xmount-go/xmount/pkg/image"
)

// memImage is a minimal in-memory image.Image used to exercise the
// unallocated morph without touching any input plug-in.
type memImage struct{ b []byte }

func (m *memImage) Size() (int64, error) { return int64(len(m.b)), nil }
func (m *memImage) Close() error         { return nil }
func (m *memImage) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.b[off:])
	return n, nil
}

// buildHfsPlusImage writes a synthetic HFS+ volume: an 8-block volume
// (512-byte blocks) with its allocation file bitmap stored out of
// band in block 10. bitmapByte's bits mark blocks 0-7, MSB first,
// 1=allocated per the HFS+ convention.
func buildHfsPlusImage(t *testing.T, bitmapByte byte) []byte {
	t.Helper()
	const blockSize = 512
	const bitmapBlock = 10
	buf := make([]byte, (bitmapBlock+1)*blockSize)

	vh := make([]byte, hfsPlusVHSize)
	wire.PutU16BE(vh, 0, hfsPlusSignature)
	wire.PutU16BE(vh, 2, hfsPlusVersion)
	wire.PutU32BE(vh, 40, blockSize)
	wire.PutU32BE(vh, 44, 8) // totalBlocks
	wire.PutU32BE(vh, 48, 6) // freeBlocks
	wire.PutU64BE(vh, 112, blockSize)
	wire.PutU32BE(vh, 128, bitmapBlock)
	wire.PutU32BE(vh, 132, 1)
	copy(buf[hfsPlusVHOffset:], vh)

	buf[bitmapBlock*blockSize] = bitmapByte

	return buf
}

func TestHfsPlusFreeBlockDetection(t *testing.T) {
	// 0b10100000: block0 allocated, block1 free, block2 allocated,
	// blocks 3-7 free.
	buf := buildHfsPlusImage(t, 0b10100000)
	const blockSize = 512

	freeBlocks := []uint32{1, 3, 4, 5, 6, 7}
	for i, b := range freeBlocks {
		fill := byte(0x10 + i)
		for j := 0; j < blockSize; j++ {
			buf[int64(b)*blockSize+int64(j)] = fill
		}
	}

	img, err := newUnallocated([]image.Image{&memImage{b: buf}}, "")
	require.NoError(t, err)

	size, err := img.Size()
	require.NoError(t, err)
	require.EqualValues(t, blockSize*len(freeBlocks), size)

	for i := range freeBlocks {
		out := make([]byte, blockSize)
		_, err := img.ReadAt(out, int64(i)*blockSize)
		require.NoError(t, err)
		require.Equal(t, bytes.Repeat([]byte{byte(0x10 + i)}, blockSize), out)
	}
}

// buildFat16Image writes a synthetic FAT16 volume with four data
// clusters (2,3,4,5), each two sectors of 512 bytes, where cluster 3
// is allocated and the rest are free.
func buildFat16Image(t *testing.T) []byte {
	t.Helper()
	const sectorSize = 512
	buf := make([]byte, 10*sectorSize)

	buf[0] = 0xEB // jump instruction
	wire.PutU16LE(buf, 11, sectorSize)
	buf[13] = 2 // sectorsPerCluster
	wire.PutU16LE(buf, 14, 1) // reservedSectors
	buf[16] = 1               // fatCount
	wire.PutU16LE(buf, 17, 0) // rootEntryCount
	wire.PutU16LE(buf, 19, 10) // totalSectors16
	buf[21] = 0xF8
	wire.PutU16LE(buf, 22, 1) // sectors per FAT
	wire.PutU32LE(buf, 32, 0)
	wire.PutU32LE(buf, 36, 0)

	fatOff := sectorSize // reservedSectors(1) * sectorSize
	wire.PutU16LE(buf, fatOff+2*2, 0)      // cluster 2: free
	wire.PutU16LE(buf, fatOff+3*2, 0xFFF8) // cluster 3: allocated (end-of-chain marker)
	wire.PutU16LE(buf, fatOff+4*2, 0)      // cluster 4: free
	wire.PutU16LE(buf, fatOff+5*2, 0)      // cluster 5: free

	writeCluster := func(sector int, fill byte) {
		for i := 0; i < 2*sectorSize; i++ {
			buf[sector*sectorSize+i] = fill
		}
	}
	writeCluster(2, 0xAA) // cluster 2
	writeCluster(6, 0xBB) // cluster 4
	writeCluster(8, 0xCC) // cluster 5

	return buf
}

func TestFatFreeClusterDetection(t *testing.T) {
	buf := buildFat16Image(t)
	const clusterSize = 1024

	img, err := newUnallocated([]image.Image{&memImage{b: buf}}, "unallocated_fs=fat16")
	require.NoError(t, err)

	size, err := img.Size()
	require.NoError(t, err)
	require.EqualValues(t, clusterSize*3, size)

	out := make([]byte, clusterSize)
	_, err = img.ReadAt(out, 0)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0xAA}, clusterSize), out)

	_, err = img.ReadAt(out, clusterSize)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0xBB}, clusterSize), out)

	_, err = img.ReadAt(out, 2*clusterSize)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0xCC}, clusterSize), out)
}

func TestNoSupportedFilesystemDetected(t *testing.T) {
	buf := make([]byte, 4096)
	_, err := newUnallocated([]image.Image{&memImage{b: buf}}, "")
	require.Error(t, err)
}
