package qcow2

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xmount-go/xmount/internal/wire"
)

const testClusterBits = 9 // 512-byte clusters, kept tiny for fast tests

// buildImage writes a minimal QCOW2 file with a single L1 entry
// pointing at one L2 table with two cluster entries: one plain, one
// zero (unallocated).
func buildImage(t *testing.T, dir string, plainCluster []byte) string {
	t.Helper()
	path := filepath.Join(dir, "disk.qcow2")
	clusterSize := int64(1) << testClusterBits

	// Layout, each table and cluster on a cluster boundary (the L1/L2
	// address mask clears the low 9 bits), zero padding in between:
	//   [0, headerSize)                        header (magic + fields)
	//   [clusterSize, clusterSize+8)           L1 table, one entry
	//   [2*clusterSize, 2*clusterSize+16)      L2 table, two entries
	//   [3*clusterSize, 4*clusterSize)         cluster 0's plain data
	l1TableOffset := clusterSize
	l2TableOffset := 2 * clusterSize
	dataOffset := 3 * clusterSize

	var buf bytes.Buffer
	buf.Write(magic[:])
	hdr := make([]byte, headerSize-4)
	wire.PutU32BE(hdr, 0, 2)                         // version
	wire.PutU32BE(hdr, 16, uint32(testClusterBits))  // clusterBits
	wire.PutU64BE(hdr, 20, uint64(clusterSize*2))    // size: two clusters worth
	wire.PutU32BE(hdr, 28, 0)                        // cryptMethod
	wire.PutU32BE(hdr, 32, 1)                        // l1Size
	wire.PutU64BE(hdr, 36, uint64(l1TableOffset))    // l1TableOffset
	buf.Write(hdr)

	buf.Write(make([]byte, l1TableOffset-int64(buf.Len())))
	l1Entry := make([]byte, 8)
	wire.PutU64BE(l1Entry, 0, uint64(l2TableOffset))
	buf.Write(l1Entry)

	buf.Write(make([]byte, l2TableOffset-int64(buf.Len())))
	l2Table := make([]byte, 16)
	wire.PutU64BE(l2Table, 0, uint64(dataOffset)) // cluster 0: plain data
	wire.PutU64BE(l2Table, 8, 0)                  // cluster 1: unallocated
	buf.Write(l2Table)

	buf.Write(make([]byte, dataOffset-int64(buf.Len())))
	require.Len(t, plainCluster, int(clusterSize))
	buf.Write(plainCluster)

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestReadPlainAndUnallocatedClusters(t *testing.T) {
	dir := t.TempDir()
	clusterSize := int64(1) << testClusterBits
	plain := bytes.Repeat([]byte{0x42}, int(clusterSize))
	path := buildImage(t, dir, plain)

	img, err := New([]string{path}, 0, 0, "")
	require.NoError(t, err)
	defer img.Close()

	size, err := img.Size()
	require.NoError(t, err)
	require.EqualValues(t, clusterSize*2, size)

	out := make([]byte, clusterSize)
	_, err = img.ReadAt(out, 0)
	require.NoError(t, err)
	require.Equal(t, plain, out)

	zeroOut := make([]byte, clusterSize)
	_, err = img.ReadAt(zeroOut, clusterSize)
	require.NoError(t, err)
	require.Equal(t, make([]byte, clusterSize), zeroOut)
}

func TestRejectsEncryptedImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "encrypted.qcow2")

	var buf bytes.Buffer
	buf.Write(magic[:])
	hdr := make([]byte, headerSize-4)
	wire.PutU32BE(hdr, 0, 2)
	wire.PutU32BE(hdr, 16, uint32(testClusterBits))
	wire.PutU64BE(hdr, 20, 512)
	wire.PutU32BE(hdr, 28, 1) // cryptMethod != 0
	buf.Write(hdr)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	_, err := New([]string{path}, 0, 0, "")
	require.Error(t, err)
}
