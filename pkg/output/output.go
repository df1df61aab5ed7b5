// Package output implements the envelope layer: each plug-in wraps a
// morphed body image in a format-specific header/footer/descriptor and
// exposes the result as the virtual file the consumer mounts. Fixed-
// envelope formats (VDI, VHD) precompute their header/footer bytes
// once at construction and serve them verbatim; raw and DMG are pure
// pass-through. The header/footer-around-a-body shape is grounded on
// hive/builder's staged assembly of fixed bytes around a payload.
package output

import (
	"github.com/xmount-go/xmount/pkg/image"
	"github.com/xmount-go/xmount/pkg/xerr"
)

// framed is a body wrapped with an optional fixed-content prefix and
// suffix, computed once at construction. It is the shared shape
// behind every output plug-in: raw/dmg use an empty prefix and
// suffix, VDI uses only a prefix (header + block map), VHD uses only
// a suffix (footer).
type framed struct {
	prefix   []byte
	body     image.Image
	bodySize int64
	suffix   []byte
}

func newFramed(prefix []byte, body image.Image, bodySize int64, suffix []byte) framed {
	return framed{prefix: prefix, body: body, bodySize: bodySize, suffix: suffix}
}

func (f *framed) Size() (int64, error) {
	return int64(len(f.prefix)) + f.bodySize + int64(len(f.suffix)), nil
}

func (f *framed) Close() error { return f.body.Close() }

// WriteAt is never reached in a normally assembled pipeline: the CoW
// cache sits outside the envelope and absorbs every write before it
// would reach here. It is implemented defensively for an envelope
// mounted without a cache.
func (f *framed) WriteAt(p []byte, off int64) (int, error) {
	return 0, xerr.New(xerr.ClassUnsupported, "output: envelope is read-only; writes are diverted through the cache layer")
}

// ReadAt serves bytes from the prefix, the body, and the suffix in
// turn, splitting a request that straddles a boundary.
func (f *framed) ReadAt(p []byte, off int64) (int, error) {
	total := int64(len(f.prefix)) + f.bodySize + int64(len(f.suffix))
	if off < 0 || off >= total {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, xerr.New(xerr.ClassArgument, "output: read past end of envelope")
	}
	if int64(len(p)) > total-off {
		p = p[:total-off]
	}

	var n int
	prefixEnd := int64(len(f.prefix))
	bodyEnd := prefixEnd + f.bodySize

	if off < prefixEnd {
		c := copy(p, f.prefix[off:])
		n += c
		p = p[c:]
		off += int64(c)
	}
	if len(p) > 0 && off < bodyEnd {
		want := len(p)
		if avail := bodyEnd - off; int64(want) > avail {
			want = int(avail)
		}
		got, err := f.body.ReadAt(p[:want], off-prefixEnd)
		n += got
		p = p[got:]
		off += int64(got)
		if err != nil {
			return n, err
		}
	}
	if len(p) > 0 && off >= bodyEnd {
		c := copy(p, f.suffix[off-bodyEnd:])
		n += c
	}
	return n, nil
}
