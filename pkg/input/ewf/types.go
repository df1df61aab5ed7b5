// Package ewf implements the AEWF input plug-in, the hardest input
// path: a multi-segment, section-structured, per-chunk zlib-compressed
// evidence container. Layout is grounded on the real EWF
// section/table/volume structures seen in
// other_examples/0a21e64e_laenix-ewfgo (section header, 94-byte volume
// specification, 24-byte table header).
package ewf

import "time"

// Signature is the 8-byte EWF segment file signature.
var Signature = [8]byte{'E', 'V', 'F', 0x09, 0x0d, 0x0a, 0xff, 0x00}

const (
	// SectionHeaderSize is the fixed 76-byte packed section header:
	// 16-byte type + 8-byte next-offset + 8-byte size + 40-byte
	// padding + 4-byte checksum.
	SectionHeaderSize = 76
	sectionTypeSize   = 16
	sectionPadSize    = 40

	// VolumeSectionSize is the 94-byte volume/disk specification
	// payload, grounded on other_examples' EWFSpecification struct.
	VolumeSectionSize = 94

	// TableHeaderSize is the 24-byte table section header (chunk
	// count, reserved, base offset, reserved, checksum).
	TableHeaderSize = 24

	// MaxSectionCount bounds the number of sections accepted per
	// segment, guarding against a malformed next-offset chain looping
	// forever.
	MaxSectionCount = 1 << 16

	// MaxChunkSize bounds a single chunk's on-disk size, guarding
	// against a corrupt table entry causing an unbounded allocation.
	MaxChunkSize = 64 << 20
)

// sectionType names, padded/truncated to 16 bytes on disk.
const (
	sectionTypeVolume  = "volume"
	sectionTypeTable   = "table"
	sectionTypeSectors = "sectors"
	sectionTypeHash    = "hash"
	sectionTypeDone    = "done"
)

// segmentEntry records one segment file: its number, pathname, size
// at scan time, and a lastUsed field. Handle eviction does not read
// lastUsed; segmentCache orders open handles by its LRU list.
type segmentEntry struct {
	number   int
	path     string
	size     int64
	lastUsed time.Time
}

// tableEntry records one table's coverage and location: the
// chunk-number range it covers, owning segment, in-segment offset,
// size, chunk count, and the companion sectors-section location/size.
// Decoded chunk offsets are materialized lazily and cached separately
// in tableStore.
type tableEntry struct {
	firstChunk int64 // first chunk number covered
	chunkCount int64
	segment    int   // owning segment number
	offset     int64 // in-segment offset of the table section's payload
	size       int64
	sectorsOffset int64 // in-segment offset of the companion sectors section payload
	sectorsSize   int64
}

// decodedChunk is one entry from a materialized table: the chunk's
// absolute file offset and whether its stored bytes are
// zlib-compressed, taken from the entry's top-bit flag.
type decodedChunk struct {
	offset     int64
	compressed bool
}

// volumeInfo carries the fields the volume section supplies: sector
// size, sector count, sectors-per-chunk, media flags.
type volumeInfo struct {
	bytesPerSector   uint32
	sectorsPerChunk  uint32
	sectorCount      uint64
	mediaFlags       uint8
	compressionLevel uint8
}

func (v volumeInfo) chunkSize() int64 {
	return int64(v.bytesPerSector) * int64(v.sectorsPerChunk)
}
