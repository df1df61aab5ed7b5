package ewf

import (
	"bytes"
	"hash/adler32"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/xmount-go/xmount/pkg/xerr"
)

// readChunk reads one chunk: bring the owning segment into the open
// set, read the raw chunk bytes (trailing 4-byte Adler-32 checksum
// included), verify the checksum, then inflate if the table marked
// the chunk compressed. dst must be at least chunkSize bytes; the
// returned slice aliases dst.
func readChunk(sc *segmentCache, t tableEntry, dt decodedTable, index int, chunkSize int64, scratch []byte, dst []byte) ([]byte, error) {
	f, err := sc.open(t.segment)
	if err != nil {
		return nil, err
	}

	start := dt.chunks[index].offset
	var end int64
	if index+1 < len(dt.chunks) {
		end = dt.chunks[index+1].offset
	} else {
		end = t.sectorsOffset + t.sectorsSize
	}
	regionLen := end - start
	if regionLen < 4 {
		return nil, xerr.New(xerr.ClassIO, "ewf: chunk region too small for checksum trailer")
	}
	dataLen := regionLen - 4
	if dataLen > MaxChunkSize {
		return nil, xerr.New(xerr.ClassIO, "ewf: chunk exceeds maximum size")
	}

	raw := scratch
	if int64(cap(raw)) < regionLen {
		raw = make([]byte, regionLen)
	}
	raw = raw[:regionLen]
	if _, err := f.ReadAt(raw, start); err != nil {
		return nil, xerr.Wrap(xerr.ClassIO, err, "ewf: read chunk data")
	}

	data := raw[:dataLen]
	wantSum := adler32.Checksum(data)
	gotSum := uint32(raw[dataLen]) | uint32(raw[dataLen+1])<<8 | uint32(raw[dataLen+2])<<16 | uint32(raw[dataLen+3])<<24
	if wantSum != gotSum {
		return nil, xerr.New(xerr.ClassIO, "ewf: chunk checksum mismatch")
	}

	if !dt.chunks[index].compressed {
		n := copy(dst, data)
		return dst[:n], nil
	}

	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()
	n, err := io.ReadFull(fr, dst[:chunkSize])
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, xerr.Wrap(xerr.ClassIO, err, "ewf: inflate chunk")
	}
	return dst[:n], nil
}
