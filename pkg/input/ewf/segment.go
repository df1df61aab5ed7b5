package ewf

import (
	"io"
	"os"
	"sort"

	"github.com/xmount-go/xmount/internal/wire"
	"github.com/xmount-go/xmount/pkg/xerr"
)

// scanResult is everything discovered by walking every segment's
// section chain once at open time.
type scanResult struct {
	segments []segmentEntry
	tables   []tableEntry
	volume   volumeInfo
}

// scanSegments validates and indexes every segment file: signature,
// segment-number collisions, declared segment count versus file count,
// section ordering (volume before any table; every table preceded by
// a sectors section), and section count caps.
func scanSegments(files []string) (scanResult, error) {
	if len(files) == 0 {
		return scanResult{}, xerr.New(xerr.ClassArgument, "ewf: no source files given")
	}
	var res scanResult
	seenNumbers := map[int]string{}
	haveVolume := false
	declaredCount := -1

	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return scanResult{}, xerr.Wrapf(xerr.ClassIO, err, "ewf: open %s", path)
		}
		entry, segTables, segVolume, segDeclared, err := scanOneSegment(f, path)
		f.Close()
		if err != nil {
			return scanResult{}, err
		}
		if prev, ok := seenNumbers[entry.number]; ok {
			return scanResult{}, xerr.New(xerr.ClassIO, "ewf: duplicate segment number "+path+" / "+prev)
		}
		seenNumbers[entry.number] = path
		if segVolume != nil {
			if haveVolume {
				return scanResult{}, xerr.New(xerr.ClassIO, "ewf: more than one volume section across segments")
			}
			haveVolume = true
			res.volume = *segVolume
		}
		if segDeclared >= 0 {
			if declaredCount >= 0 && declaredCount != segDeclared {
				return scanResult{}, xerr.New(xerr.ClassIO, "ewf: conflicting declared segment counts")
			}
			declaredCount = segDeclared
		}
		res.segments = append(res.segments, entry)
		res.tables = append(res.tables, segTables...)
	}

	if !haveVolume {
		return scanResult{}, xerr.New(xerr.ClassIO, "ewf: no volume section found")
	}
	if declaredCount >= 0 && declaredCount != len(files) {
		return scanResult{}, xerr.New(xerr.ClassIO, "ewf: declared segment count disagrees with file count")
	}

	sort.Slice(res.segments, func(i, j int) bool { return res.segments[i].number < res.segments[j].number })

	// Assign global chunk numbers to each table in segment/table order.
	sort.SliceStable(res.tables, func(i, j int) bool {
		if res.tables[i].segment != res.tables[j].segment {
			return res.tables[i].segment < res.tables[j].segment
		}
		return res.tables[i].offset < res.tables[j].offset
	})
	var next int64
	for i := range res.tables {
		res.tables[i].firstChunk = next
		next += res.tables[i].chunkCount
	}

	return res, nil
}

// scanOneSegment walks f's section chain and returns its segment
// metadata, its tables, an optional parsed volume section, and the
// segment count declared by this file's header (-1 if none).
func scanOneSegment(f *os.File, path string) (segmentEntry, []tableEntry, *volumeInfo, int, error) {
	info, err := f.Stat()
	if err != nil {
		return segmentEntry{}, nil, nil, -1, xerr.Wrapf(xerr.ClassIO, err, "ewf: stat %s", path)
	}

	header := make([]byte, len(Signature)+3)
	if _, err := io.ReadFull(f, header); err != nil {
		return segmentEntry{}, nil, nil, -1, xerr.Wrapf(xerr.ClassIO, err, "ewf: read header %s", path)
	}
	for i, b := range Signature {
		if header[i] != b {
			return segmentEntry{}, nil, nil, -1, xerr.New(xerr.ClassIO, "ewf: bad signature in "+path)
		}
	}
	segNumber := int(header[len(Signature)+1]) | int(header[len(Signature)+2])<<8

	entry := segmentEntry{number: segNumber, path: path, size: info.Size()}

	var tables []tableEntry
	var volume *volumeInfo
	declared := -1
	pendingSectors := false
	var pendingSectorsOff, pendingSectorsSize int64

	// Sections start after the 13-byte file header: signature,
	// fields-start byte, 2-byte segment number, 2-byte fields-end.
	off := int64(len(Signature) + 5)
	count := 0
	for {
		count++
		if count > MaxSectionCount {
			return segmentEntry{}, nil, nil, -1, xerr.New(xerr.ClassIO, "ewf: too many sections in "+path)
		}
		if off+SectionHeaderSize > info.Size() {
			return segmentEntry{}, nil, nil, -1, xerr.New(xerr.ClassIO, "ewf: section header runs past end of "+path)
		}
		raw := make([]byte, SectionHeaderSize)
		if _, err := f.ReadAt(raw, off); err != nil {
			return segmentEntry{}, nil, nil, -1, xerr.Wrapf(xerr.ClassIO, err, "ewf: read section header in %s", path)
		}
		hdr, err := decodeSectionHeader(raw)
		if err != nil {
			return segmentEntry{}, nil, nil, -1, err
		}
		payloadOff := off + SectionHeaderSize
		payloadSize := int64(hdr.size) - SectionHeaderSize
		if payloadSize < 0 {
			return segmentEntry{}, nil, nil, -1, xerr.New(xerr.ClassIO, "ewf: negative section payload in "+path)
		}

		switch hdr.typ {
		case sectionTypeVolume:
			if len(tables) > 0 {
				return segmentEntry{}, nil, nil, -1, xerr.New(xerr.ClassIO, "ewf: volume section after table in "+path)
			}
			buf := make([]byte, payloadSize)
			if _, err := f.ReadAt(buf, payloadOff); err != nil {
				return segmentEntry{}, nil, nil, -1, xerr.Wrapf(xerr.ClassIO, err, "ewf: read volume section in %s", path)
			}
			v, err := decodeVolume(buf)
			if err != nil {
				return segmentEntry{}, nil, nil, -1, err
			}
			volume = &v
			declared = int(wire.ReadU32LE(buf, 0))
		case sectionTypeSectors:
			pendingSectors = true
			pendingSectorsOff = payloadOff
			pendingSectorsSize = payloadSize
		case sectionTypeTable:
			if !pendingSectors {
				return segmentEntry{}, nil, nil, -1, xerr.New(xerr.ClassIO, "ewf: table section without preceding sectors in "+path)
			}
			buf := make([]byte, payloadSize)
			if _, err := f.ReadAt(buf, payloadOff); err != nil {
				return segmentEntry{}, nil, nil, -1, xerr.Wrapf(xerr.ClassIO, err, "ewf: read table section in %s", path)
			}
			dt, err := decodeTable(buf)
			if err != nil {
				return segmentEntry{}, nil, nil, -1, err
			}
			tables = append(tables, tableEntry{
				chunkCount:    int64(len(dt.chunks)),
				segment:       segNumber,
				offset:        payloadOff,
				size:          payloadSize,
				sectorsOffset: pendingSectorsOff,
				sectorsSize:   pendingSectorsSize,
			})
			pendingSectors = false
		case sectionTypeDone:
			return entry, tables, volume, declared, nil
		}

		if hdr.nextOffset == uint64(off) || hdr.nextOffset == 0 {
			// "done"-less terminal segment; treat as end of chain.
			return entry, tables, volume, declared, nil
		}
		off = int64(hdr.nextOffset)
	}
}
