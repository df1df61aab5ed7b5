// Package morph implements the morphing layer: it accepts one or more
// logical input images and exposes a single virtual morphed image,
// under one of several composition rules (concatenation, byte-pair
// reversal, or selective extraction of unallocated clusters).
package morph

import (
	"github.com/xmount-go/xmount/pkg/image"
	"github.com/xmount-go/xmount/pkg/registry"
	"github.com/xmount-go/xmount/pkg/xerr"
)

func init() {
	registry.RegisterMorph("combine", []string{"combine"}, newCombine)
}

type part struct {
	img  image.Image
	base int64
	size int64
}

// combined is the cumulative-offset concatenation of its input images,
// in input order, with no transformation applied to the bytes.
type combined struct {
	parts []part
	total int64
}

func newCombine(inputs []image.Image, _ string) (image.Image, error) {
	if len(inputs) == 0 {
		return nil, xerr.New(xerr.ClassArgument, "combine: no input images given")
	}
	c := &combined{}
	var base int64
	for _, in := range inputs {
		size, err := in.Size()
		if err != nil {
			return nil, err
		}
		c.parts = append(c.parts, part{img: in, base: base, size: size})
		base += size
	}
	c.total = base
	return c, nil
}

func (c *combined) Size() (int64, error) { return c.total, nil }

func (c *combined) Close() error {
	var firstErr error
	for _, p := range c.parts {
		if err := p.img.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReadAt reads across as many parts as the request spans, in order.
func (c *combined) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= c.total {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, xerr.New(xerr.ClassArgument, "combine: read past end of morphed image")
	}
	if int64(len(p)) > c.total-off {
		p = p[:c.total-off]
	}
	var n int
	for len(p) > 0 {
		part, local, err := c.partFor(off)
		if err != nil {
			return n, err
		}
		want := len(p)
		if avail := part.size - local; int64(want) > avail {
			want = int(avail)
		}
		got, err := part.img.ReadAt(p[:want], local)
		n += got
		p = p[got:]
		off += int64(got)
		if err != nil {
			return n, err
		}
		if got == 0 {
			break
		}
	}
	return n, nil
}

func (c *combined) partFor(off int64) (*part, int64, error) {
	for i := range c.parts {
		pt := &c.parts[i]
		if off < pt.base+pt.size {
			return pt, off - pt.base, nil
		}
	}
	return nil, 0, xerr.New(xerr.ClassArgument, "combine: offset outside any input")
}
