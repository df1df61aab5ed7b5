package ewf

import (
	"hash/adler32"

	"github.com/xmount-go/xmount/internal/wire"
	"github.com/xmount-go/xmount/pkg/xerr"
)

// sectionHeader is the decoded form of the 76-byte packed section
// header.
type sectionHeader struct {
	typ        string
	nextOffset uint64
	size       uint64
}

func decodeSectionHeader(b []byte) (sectionHeader, error) {
	if len(b) < SectionHeaderSize {
		return sectionHeader{}, xerr.New(xerr.ClassIO, "ewf: truncated section header")
	}
	want := adler32.Checksum(b[:SectionHeaderSize-4])
	got := wire.ReadU32LE(b, SectionHeaderSize-4)
	if want != got {
		return sectionHeader{}, xerr.New(xerr.ClassIO, "ewf: section header checksum mismatch")
	}
	return sectionHeader{
		typ:        wire.CString(b[0:sectionTypeSize]),
		nextOffset: wire.ReadU64LE(b, sectionTypeSize),
		size:       wire.ReadU64LE(b, sectionTypeSize+8),
	}, nil
}

func encodeSectionHeader(h sectionHeader) []byte {
	b := make([]byte, SectionHeaderSize)
	copy(b[0:sectionTypeSize], h.typ)
	wire.PutU64LE(b, sectionTypeSize, h.nextOffset)
	wire.PutU64LE(b, sectionTypeSize+8, h.size)
	// bytes [32:72) are the 40-byte padding, left zero.
	sum := adler32.Checksum(b[:SectionHeaderSize-4])
	wire.PutU32LE(b, SectionHeaderSize-4, sum)
	return b
}

// decodeVolume parses the 94-byte volume/disk specification payload:
// one per evidence set, carrying sector size, sector count,
// sectors-per-chunk, and media flags.
func decodeVolume(b []byte) (volumeInfo, error) {
	if len(b) < VolumeSectionSize {
		return volumeInfo{}, xerr.New(xerr.ClassIO, "ewf: truncated volume section")
	}
	want := adler32.Checksum(b[:VolumeSectionSize-4])
	got := wire.ReadU32LE(b, VolumeSectionSize-4)
	if want != got {
		return volumeInfo{}, xerr.New(xerr.ClassIO, "ewf: volume section checksum mismatch")
	}
	return volumeInfo{
		sectorsPerChunk:  wire.ReadU32LE(b, 8),
		bytesPerSector:   wire.ReadU32LE(b, 12),
		sectorCount:      wire.ReadU64LE(b, 16),
		mediaFlags:       b[36],
		compressionLevel: b[52],
	}, nil
}

func encodeVolume(v volumeInfo, chunkCount, declaredSegments uint32) []byte {
	b := make([]byte, VolumeSectionSize)
	wire.PutU32LE(b, 0, declaredSegments)
	wire.PutU32LE(b, 4, chunkCount)
	wire.PutU32LE(b, 8, v.sectorsPerChunk)
	wire.PutU32LE(b, 12, v.bytesPerSector)
	wire.PutU64LE(b, 16, v.sectorCount)
	b[36] = v.mediaFlags
	b[52] = v.compressionLevel
	sum := adler32.Checksum(b[:VolumeSectionSize-4])
	wire.PutU32LE(b, VolumeSectionSize-4, sum)
	return b
}

// decodedTable is a fully materialized table: the base offset plus one
// decodedChunk per entry.
type decodedTable struct {
	baseOffset int64
	chunks     []decodedChunk
}

func decodeTable(b []byte) (decodedTable, error) {
	if len(b) < TableHeaderSize {
		return decodedTable{}, xerr.New(xerr.ClassIO, "ewf: truncated table header")
	}
	headerSum := adler32.Checksum(b[:TableHeaderSize-4])
	if headerSum != wire.ReadU32LE(b, TableHeaderSize-4) {
		return decodedTable{}, xerr.New(xerr.ClassIO, "ewf: table header checksum mismatch")
	}
	count := wire.ReadU32LE(b, 0)
	baseOffset := int64(wire.ReadU64LE(b, 8))
	entriesEnd := TableHeaderSize + int(count)*4
	if len(b) < entriesEnd+4 {
		return decodedTable{}, xerr.New(xerr.ClassIO, "ewf: truncated table entries")
	}
	footerSum := adler32.Checksum(b[TableHeaderSize:entriesEnd])
	if footerSum != wire.ReadU32LE(b, entriesEnd) {
		return decodedTable{}, xerr.New(xerr.ClassIO, "ewf: table footer checksum mismatch")
	}
	chunks := make([]decodedChunk, count)
	for i := uint32(0); i < count; i++ {
		raw := wire.ReadU32LE(b, TableHeaderSize+int(i)*4)
		chunks[i] = decodedChunk{
			offset:     baseOffset + int64(raw&0x7fffffff),
			compressed: raw&0x80000000 != 0,
		}
	}
	return decodedTable{baseOffset: baseOffset, chunks: chunks}, nil
}

func encodeTable(baseOffset int64, chunks []decodedChunk) []byte {
	entriesEnd := TableHeaderSize + len(chunks)*4
	b := make([]byte, entriesEnd+4)
	wire.PutU32LE(b, 0, uint32(len(chunks)))
	wire.PutU64LE(b, 8, uint64(baseOffset))
	headerSum := adler32.Checksum(b[:TableHeaderSize-4])
	wire.PutU32LE(b, TableHeaderSize-4, headerSum)
	for i, c := range chunks {
		rel := uint32(c.offset - baseOffset)
		if c.compressed {
			rel |= 0x80000000
		}
		wire.PutU32LE(b, TableHeaderSize+i*4, rel)
	}
	footerSum := adler32.Checksum(b[TableHeaderSize:entriesEnd])
	wire.PutU32LE(b, entriesEnd, footerSum)
	return b
}
