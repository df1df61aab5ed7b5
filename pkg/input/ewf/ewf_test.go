package ewf

import (
	"bytes"
	"compress/flate"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testChunkSize = 16 // bytesPerSector(4) * sectorsPerChunk(4), kept tiny for fast tests

// buildSegment writes a single-segment EWF evidence file with one
// table covering chunks, the middle chunk optionally zlib-compressed.
func buildSegment(t *testing.T, dir string, chunks [][]byte, compressMiddle bool) string {
	t.Helper()
	path := filepath.Join(dir, "evidence.E01")

	var buf bytes.Buffer
	buf.Write(Signature[:])
	buf.WriteByte(1)    // FieldsStart
	buf.WriteByte(1)    // segment number low
	buf.WriteByte(0)    // segment number high
	buf.WriteByte(0)    // FieldsEnd low
	buf.WriteByte(0)    // FieldsEnd high (unused, keeps header at 11 bytes + 2 pad below)

	volumeOff := int64(buf.Len())
	volumePayload := encodeVolume(volumeInfo{
		sectorsPerChunk: 4,
		bytesPerSector:  4,
		sectorCount:     uint64(len(chunks) * 4),
		mediaFlags:      0x02,
	}, uint32(len(chunks)), 1)
	buf.Write(sectionBytes("volume", volumeOff, volumePayload))

	sectorsOff := int64(buf.Len()) + SectionHeaderSize
	var sectorsPayload bytes.Buffer
	var chunkEntries []decodedChunk
	var chunkOffsets []int64

	for i, chunk := range chunks {
		compressed := compressMiddle && i == 1
		var stored []byte
		if compressed {
			var zbuf bytes.Buffer
			fw, _ := flate.NewWriter(&zbuf, flate.BestCompression)
			fw.Write(chunk)
			fw.Close()
			stored = zbuf.Bytes()
		} else {
			stored = chunk
		}
		chunkOffsets = append(chunkOffsets, sectorsOff+int64(sectorsPayload.Len()))
		sectorsPayload.Write(stored)
		sum := adler32Sum(stored)
		sectorsPayload.WriteByte(byte(sum))
		sectorsPayload.WriteByte(byte(sum >> 8))
		sectorsPayload.WriteByte(byte(sum >> 16))
		sectorsPayload.WriteByte(byte(sum >> 24))
		chunkEntries = append(chunkEntries, decodedChunk{offset: chunkOffsets[i], compressed: compressed})
	}
	buf.Write(sectionBytes("sectors", int64(buf.Len()), sectorsPayload.Bytes()))

	// Table's base offset is 0 so decodedChunk.offset above (absolute)
	// round-trips through encodeTable unchanged.
	tablePayload := encodeTable(0, chunkEntries)
	buf.Write(sectionBytes("table", int64(buf.Len()), tablePayload))

	buf.Write(sectionBytes("done", int64(buf.Len()), nil))

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

// sectionBytes encodes a section header followed by payload, with
// nextOffset pointing just past this section (the scanner only relies
// on it to stop at "done" or detect a malformed chain; it never jumps
// backward in these tests).
func sectionBytes(typ string, startOffset int64, payload []byte) []byte {
	h := sectionHeader{
		typ:        typ,
		nextOffset: uint64(startOffset) + SectionHeaderSize + uint64(len(payload)),
		size:       SectionHeaderSize + uint64(len(payload)),
	}
	out := encodeSectionHeader(h)
	out = append(out, payload...)
	return out
}

func adler32Sum(b []byte) uint32 {
	const mod = 65521
	var a, bsum uint32 = 1, 0
	for _, c := range b {
		a = (a + uint32(c)) % mod
		bsum = (bsum + a) % mod
	}
	return bsum<<16 | a
}

func TestReadThreeChunksMiddleCompressed(t *testing.T) {
	dir := t.TempDir()
	chunks := [][]byte{
		bytes.Repeat([]byte{0xAA}, testChunkSize),
		bytes.Repeat([]byte{0xBB}, testChunkSize),
		bytes.Repeat([]byte{0xCC}, testChunkSize),
	}
	path := buildSegment(t, dir, chunks, true)

	img, err := New([]string{path}, 0, 0, "")
	require.NoError(t, err)
	defer img.Close()

	size, err := img.Size()
	require.NoError(t, err)
	require.EqualValues(t, testChunkSize*3, size)

	out := make([]byte, testChunkSize)
	n, err := img.ReadAt(out, testChunkSize)
	require.NoError(t, err)
	require.Equal(t, testChunkSize, n)
	require.Equal(t, chunks[1], out)
}

func TestCorruptChecksumFails(t *testing.T) {
	dir := t.TempDir()
	chunks := [][]byte{
		bytes.Repeat([]byte{0x01}, testChunkSize),
		bytes.Repeat([]byte{0x02}, testChunkSize),
	}
	path := buildSegment(t, dir, chunks, false)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip a byte inside the second chunk's stored data to break its checksum.
	idx := bytes.Index(data, chunks[1])
	require.NotEqual(t, -1, idx)
	data[idx] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	img, err := New([]string{path}, 0, 0, "")
	require.NoError(t, err)
	defer img.Close()

	out := make([]byte, testChunkSize)
	_, err = img.ReadAt(out, testChunkSize)
	require.Error(t, err)
}

func TestUnknownSignatureRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.E01")
	require.NoError(t, os.WriteFile(path, []byte("not an ewf file at all"), 0o644))

	_, err := New([]string{path}, 0, 0, "")
	require.Error(t, err)
}
