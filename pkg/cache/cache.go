// Package cache implements the copy-on-write block cache: it sits
// outside the output envelope, diverting writes into a private file
// so the original evidence and the morphed stream beneath it are
// never touched. Reads fall through to the envelope until a block has
// been written at least once. The block-allocation shape (append a
// new block, record its offset, never move a placed block) is
// grounded on hive/alloc's bump-allocator-plus-free-list idiom,
// simplified here since cache blocks are never freed; the mutex-
// guarded append-then-index-update sequence and position-targeted
// durable writes follow hive/dirty's dirty-range tracking model,
// adapted from page ranges to whole fixed-size blocks.
package cache

import (
	"os"
	"sync"

	"github.com/xmount-go/xmount/internal/flush"
	"github.com/xmount-go/xmount/internal/wire"
	"github.com/xmount-go/xmount/pkg/image"
	"github.com/xmount-go/xmount/pkg/xerr"
)

// BlockSize is the fixed block granularity the cache diverts writes
// at: 1 MiB.
const BlockSize = 1 << 20

const (
	headerMagicLen = 8
	headerSize     = 512
	currentVersion = 2
)

var headerMagic = [headerMagicLen]byte{'x', 'm', 'o', 'u', 'n', 't', 0xFF, 0xFF}

// unassigned is the sentinel index-entry value: the block has never
// been diverted and reads through to the envelope.
const unassigned = ^uint64(0)

// Cache is a private file holding diverted writes for one envelope.
// It implements image.Envelope itself, standing in for the envelope
// it wraps from the consumer's point of view.
type Cache struct {
	f      *os.File
	source image.Envelope

	blockSize  int64
	blockCount int64
	indexOff   int64

	mu    sync.Mutex
	index []uint64 // one entry per block; unassigned or a cache-file byte offset
	tail  int64    // next free byte offset past the index, for appends
}

// Open attaches a cache file to source. If path exists and overwrite
// is false, the file is validated and its index loaded; otherwise a
// fresh cache is created (truncating any existing file when overwrite
// is true).
func Open(path string, source image.Envelope, overwrite bool) (*Cache, error) {
	size, err := source.Size()
	if err != nil {
		return nil, err
	}
	blockCount := (size + BlockSize - 1) / BlockSize

	_, statErr := os.Stat(path)
	exists := statErr == nil
	if !exists && !os.IsNotExist(statErr) {
		return nil, xerr.Wrap(xerr.ClassIO, statErr, "cache: stat cache file")
	}

	if exists && !overwrite {
		return openExisting(path, source, blockCount)
	}
	return create(path, source, blockCount)
}

func openExisting(path string, source image.Envelope, wantBlockCount int64) (*Cache, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, xerr.Wrap(xerr.ClassIO, err, "cache: open")
	}

	hdr := make([]byte, headerSize)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		f.Close()
		return nil, xerr.Wrap(xerr.ClassIO, err, "cache: read header")
	}
	if [headerMagicLen]byte(hdr[:headerMagicLen]) != headerMagic {
		f.Close()
		return nil, xerr.New(xerr.ClassIO, "cache: bad magic")
	}
	version := wire.ReadU32LE(hdr, 8)
	if version != currentVersion {
		f.Close()
		return nil, xerr.New(xerr.ClassUnsupported, "cache: incompatible cache file version")
	}
	blockSize := int64(wire.ReadU64LE(hdr, 12))
	blockCount := int64(wire.ReadU64LE(hdr, 20))
	indexOff := int64(wire.ReadU64LE(hdr, 28))
	if blockSize != BlockSize || blockCount != wantBlockCount {
		f.Close()
		return nil, xerr.New(xerr.ClassIO, "cache: header does not match envelope size")
	}

	raw := make([]byte, blockCount*8)
	if blockCount > 0 {
		if _, err := f.ReadAt(raw, indexOff); err != nil {
			f.Close()
			return nil, xerr.Wrap(xerr.ClassIO, err, "cache: read index")
		}
	}
	index := make([]uint64, blockCount)
	var tail int64
	for i := range index {
		index[i] = wire.ReadU64LE(raw, i*8)
		if index[i] != unassigned {
			if end := int64(index[i]) + BlockSize; end > tail {
				tail = end
			}
		}
	}
	if base := indexOff + blockCount*8; tail < base {
		tail = base
	}

	return &Cache{
		f: f, source: source,
		blockSize: blockSize, blockCount: blockCount, indexOff: indexOff,
		index: index, tail: tail,
	}, nil
}

func create(path string, source image.Envelope, blockCount int64) (*Cache, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, xerr.Wrap(xerr.ClassIO, err, "cache: create")
	}

	hdr := make([]byte, headerSize)
	copy(hdr[:headerMagicLen], headerMagic[:])
	wire.PutU32LE(hdr, 8, currentVersion)
	wire.PutU64LE(hdr, 12, BlockSize)
	wire.PutU64LE(hdr, 20, uint64(blockCount))
	indexOff := int64(headerSize)
	wire.PutU64LE(hdr, 28, uint64(indexOff))
	if _, err := f.WriteAt(hdr, 0); err != nil {
		f.Close()
		return nil, xerr.Wrap(xerr.ClassIO, err, "cache: write header")
	}

	index := make([]uint64, blockCount)
	raw := make([]byte, blockCount*8)
	for i := range index {
		index[i] = unassigned
		wire.PutU64LE(raw, i*8, unassigned)
	}
	if blockCount > 0 {
		if _, err := f.WriteAt(raw, indexOff); err != nil {
			f.Close()
			return nil, xerr.Wrap(xerr.ClassIO, err, "cache: write index")
		}
	}
	if err := flush.File(f); err != nil {
		f.Close()
		return nil, xerr.Wrap(xerr.ClassIO, err, "cache: flush")
	}

	return &Cache{
		f: f, source: source,
		blockSize: BlockSize, blockCount: blockCount, indexOff: indexOff,
		index: index, tail: indexOff + blockCount*8,
	}, nil
}

func (c *Cache) Size() (int64, error) { return c.source.Size() }

func (c *Cache) Close() error {
	if err := c.f.Close(); err != nil {
		return xerr.Wrap(xerr.ClassIO, err, "cache: close cache file")
	}
	return c.source.Close()
}

func (c *Cache) InfofileContent() (string, error) { return c.source.InfofileContent() }

// Unwrap returns the envelope the cache wraps, letting a caller probe
// for format-specific capabilities (e.g. output.LockFileSet) beyond
// the plain image.Envelope contract.
func (c *Cache) Unwrap() image.Envelope { return c.source }

// blockLen returns the number of logical bytes block i holds: BlockSize
// except possibly for the last, shorter, block.
func (c *Cache) blockLen(i int64) int64 {
	size, _ := c.source.Size()
	start := i * c.blockSize
	if remaining := size - start; remaining < c.blockSize {
		return remaining
	}
	return c.blockSize
}

func (c *Cache) ReadAt(p []byte, off int64) (int, error) {
	size, err := c.source.Size()
	if err != nil {
		return 0, err
	}
	if off < 0 || off >= size {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, xerr.New(xerr.ClassArgument, "cache: read past end of envelope")
	}
	if int64(len(p)) > size-off {
		p = p[:size-off]
	}

	var n int
	for len(p) > 0 {
		block := off / c.blockSize
		blockOff := off % c.blockSize
		want := len(p)
		if avail := c.blockLen(block) - blockOff; int64(want) > avail {
			want = int(avail)
		}

		c.mu.Lock()
		entry := c.index[block]
		c.mu.Unlock()

		var got int
		if entry == unassigned {
			got, err = c.source.ReadAt(p[:want], off)
		} else {
			got, err = c.f.ReadAt(p[:want], int64(entry)+blockOff)
		}
		n += got
		p = p[got:]
		off += int64(got)
		if err != nil {
			return n, xerr.Wrap(xerr.ClassIO, err, "cache: read")
		}
		if got == 0 {
			break
		}
	}
	return n, nil
}

func (c *Cache) WriteAt(p []byte, off int64) (int, error) {
	size, err := c.source.Size()
	if err != nil {
		return 0, err
	}
	if off < 0 || off+int64(len(p)) > size {
		return 0, xerr.New(xerr.ClassArgument, "cache: write past end of envelope")
	}

	var n int
	for len(p) > 0 {
		block := off / c.blockSize
		blockOff := off % c.blockSize
		blen := c.blockLen(block)
		want := len(p)
		if avail := blen - blockOff; int64(want) > avail {
			want = int(avail)
		}

		if err := c.writeBlock(block, blockOff, blen, p[:want]); err != nil {
			return n, err
		}
		n += want
		p = p[want:]
		off += int64(want)
	}
	return n, nil
}

// writeBlock writes data at blockOff within logical block number
// block (whose logical length is blen), diverting it to the cache
// file if it isn't already.
func (c *Cache) writeBlock(block, blockOff, blen int64, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.index[block]
	if entry != unassigned {
		if _, err := c.f.WriteAt(data, int64(entry)+blockOff); err != nil {
			return xerr.Wrap(xerr.ClassIO, err, "cache: overwrite diverted block")
		}
		return flushAndWrap(c.f)
	}

	full := make([]byte, blen)
	if blockOff == 0 && int64(len(data)) == blen {
		copy(full, data)
	} else {
		if _, err := c.source.ReadAt(full, block*c.blockSize); err != nil {
			return xerr.Wrap(xerr.ClassIO, err, "cache: read block for copy-on-write")
		}
		copy(full[blockOff:], data)
	}

	appendOff := c.tail
	if _, err := c.f.WriteAt(full, appendOff); err != nil {
		return xerr.Wrap(xerr.ClassIO, err, "cache: append block")
	}
	c.tail += c.blockSize

	entryBytes := make([]byte, 8)
	wire.PutU64LE(entryBytes, 0, uint64(appendOff))
	if _, err := c.f.WriteAt(entryBytes, c.indexOff+block*8); err != nil {
		return xerr.Wrap(xerr.ClassIO, err, "cache: persist index entry")
	}
	c.index[block] = uint64(appendOff)

	return flushAndWrap(c.f)
}

func flushAndWrap(f *os.File) error {
	if err := flush.File(f); err != nil {
		return xerr.Wrap(xerr.ClassIO, err, "cache: flush")
	}
	return nil
}
