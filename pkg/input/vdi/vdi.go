// Package vdi implements the VirtualBox VDI input plug-in: a sparse
// block map over fixed-size blocks, supporting both the dynamic
// (sparse) and static (fixed) image types. Header layout and the two
// unallocated-block sentinel values are grounded on
// other_examples/1c15809f_google-osv-scalibr__...vdi.go's VDI reader.
package vdi

import (
	"os"

	"github.com/xmount-go/xmount/internal/wire"
	"github.com/xmount-go/xmount/pkg/image"
	"github.com/xmount-go/xmount/pkg/registry"
	"github.com/xmount-go/xmount/pkg/xerr"
)

func init() {
	registry.RegisterInput("vdi", []string{"vdi"}, New)
}

const signature = 0xBEDA107F

const (
	imageTypeDynamic = 1
	imageTypeStatic  = 2
)

// Sentinel block-map entries: an unallocated block reads as zero and
// was never written; a discarded block reads as zero but was written
// then trimmed. The input plug-in does not distinguish the two for
// read purposes.
const (
	blockUnallocated = 0xFFFFFFFF
	blockDiscarded   = 0xFFFFFFFE
)

const headerTextSize = 0x40
const headerDescriptionSize = 256

// header is the on-disk VDI preheader/header, little-endian throughout.
type header struct {
	signature     uint32
	version       uint32
	imageType     uint32
	offsetBmap    uint32
	offsetData    uint32
	sectorSize    uint32
	diskSize      uint64
	blockSize     uint32
	blockExtra    uint32
	blocksInImage uint32
}

// headerSize is the full fixed-size VDI header: text + fields up to
// and including the four 16-byte UUIDs plus seven reserved uint64s.
const headerSize = headerTextSize + 4 + 4 + 4 + 4 + 4 + headerDescriptionSize +
	4 + 4 + 4 + 4 + 4 + 4 + 4 + 8 + 4 + 4 + 4 + 4 + 16*4 + 7*8

func decodeHeader(b []byte) (header, error) {
	if len(b) < headerSize {
		return header{}, xerr.New(xerr.ClassIO, "vdi: truncated header")
	}
	off := headerTextSize
	sig := wire.ReadU32LE(b, off)
	if sig != signature {
		return header{}, xerr.New(xerr.ClassIO, "vdi: bad signature")
	}
	h := header{signature: sig}
	h.version = wire.ReadU32LE(b, off+4)
	// headerSize field at off+8 is unused here (fixed layout assumed).
	h.imageType = wire.ReadU32LE(b, off+12)
	// imageFlags at off+16.
	descOff := off + 20
	fieldsOff := descOff + headerDescriptionSize
	h.offsetBmap = wire.ReadU32LE(b, fieldsOff)
	h.offsetData = wire.ReadU32LE(b, fieldsOff+4)
	// cylinders, heads, sectors at +8, +12, +16.
	h.sectorSize = wire.ReadU32LE(b, fieldsOff+20)
	// unused1 at +24.
	h.diskSize = wire.ReadU64LE(b, fieldsOff+28)
	h.blockSize = wire.ReadU32LE(b, fieldsOff+36)
	h.blockExtra = wire.ReadU32LE(b, fieldsOff+40)
	h.blocksInImage = wire.ReadU32LE(b, fieldsOff+44)
	return h, nil
}

// Handle is an open VDI image: its header, the full block map read
// once at open time, and the derived block-to-file stride.
type Handle struct {
	f       *os.File
	h       header
	blocks  []uint32
	stride  int64
}

// New opens a VDI image. files must contain exactly one path.
func New(files []string, offset, sizeLimit int64, _ string) (image.Image, error) {
	if len(files) != 1 {
		return nil, xerr.New(xerr.ClassArgument, "vdi: exactly one file expected")
	}
	f, err := os.Open(files[0])
	if err != nil {
		return nil, xerr.Wrap(xerr.ClassIO, err, "vdi: open")
	}
	buf := make([]byte, headerSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, xerr.Wrap(xerr.ClassIO, err, "vdi: read header")
	}
	h, err := decodeHeader(buf)
	if err != nil {
		f.Close()
		return nil, err
	}
	if h.version>>16 != 1 {
		f.Close()
		return nil, xerr.New(xerr.ClassUnsupported, "vdi: unsupported major version")
	}

	hd := &Handle{f: f, h: h, stride: int64(h.blockSize) + int64(h.blockExtra)}

	switch h.imageType {
	case imageTypeStatic:
		// No block map: logical offset maps directly onto offsetData.
	case imageTypeDynamic:
		raw := make([]byte, int64(h.blocksInImage)*4)
		if _, err := f.ReadAt(raw, int64(h.offsetBmap)); err != nil {
			f.Close()
			return nil, xerr.Wrap(xerr.ClassIO, err, "vdi: read block map")
		}
		hd.blocks = make([]uint32, h.blocksInImage)
		for i := range hd.blocks {
			hd.blocks[i] = wire.ReadU32LE(raw, i*4)
		}
	default:
		f.Close()
		return nil, xerr.New(xerr.ClassUnsupported, "vdi: unsupported image type")
	}

	return applyRange(hd, offset, sizeLimit), nil
}

func applyRange(h *Handle, offset, sizeLimit int64) image.Image {
	if offset == 0 && sizeLimit == 0 {
		return h
	}
	return &rangedHandle{h: h, offset: offset, sizeLimit: sizeLimit}
}

type rangedHandle struct {
	h         *Handle
	offset    int64
	sizeLimit int64
}

func (r *rangedHandle) Size() (int64, error) {
	n := int64(r.h.h.diskSize) - r.offset
	if n < 0 {
		n = 0
	}
	if r.sizeLimit > 0 && n > r.sizeLimit {
		n = r.sizeLimit
	}
	return n, nil
}

func (r *rangedHandle) ReadAt(p []byte, off int64) (int, error) {
	return r.h.ReadAt(p, off+r.offset)
}

func (r *rangedHandle) Close() error { return r.h.Close() }

// Size returns the virtual disk size declared in the header.
func (h *Handle) Size() (int64, error) {
	return int64(h.h.diskSize), nil
}

func (h *Handle) Close() error { return h.f.Close() }

// ReadAt reads len(p) bytes starting at off, looping block by block
// for dynamic images since each block may be unallocated, discarded,
// or stored at an arbitrary physical offset.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(h.h.diskSize) {
		return 0, xerr.New(xerr.ClassArgument, "vdi: read past end of image")
	}
	if h.h.imageType == imageTypeStatic {
		n, err := h.f.ReadAt(p, int64(h.h.offsetData)+off)
		if err != nil {
			return n, xerr.Wrap(xerr.ClassIO, err, "vdi: read static data")
		}
		return n, nil
	}

	var n int
	for len(p) > 0 {
		got, err := h.readBlock(p, off)
		if err != nil {
			return n, err
		}
		n += got
		p = p[got:]
		off += int64(got)
	}
	return n, nil
}

func (h *Handle) readBlock(p []byte, off int64) (int, error) {
	blockIndex := off / int64(h.h.blockSize)
	blockOffset := off % int64(h.h.blockSize)
	if blockIndex < 0 || blockIndex >= int64(len(h.blocks)) {
		return 0, xerr.New(xerr.ClassIO, "vdi: block index out of range")
	}

	want := len(p)
	if avail := int64(h.h.blockSize) - blockOffset; int64(want) > avail {
		want = int(avail)
	}

	idx := h.blocks[blockIndex]
	if idx == blockUnallocated || idx == blockDiscarded {
		zero(p[:want])
		return want, nil
	}

	phys := int64(h.h.offsetData) + int64(idx)*h.stride + int64(h.h.blockExtra) + blockOffset
	n, err := h.f.ReadAt(p[:want], phys)
	if err != nil {
		return n, xerr.Wrap(xerr.ClassIO, err, "vdi: read data block")
	}
	return n, nil
}

func zero(p []byte) {
	for i := range p {
		p[i] = 0
	}
}
