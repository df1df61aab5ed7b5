// Package raw implements the raw/DD input plug-in: a pass-through
// concatenation of one or more split-raw files. It needs no special
// treatment beyond correct Size/ReadAt semantics, but it is still
// needed to drive the pipeline end to end.
package raw

import (
	"io"
	"os"

	"github.com/xmount-go/xmount/pkg/image"
	"github.com/xmount-go/xmount/pkg/registry"
	"github.com/xmount-go/xmount/pkg/xerr"
)

func init() {
	registry.RegisterInput("raw", []string{"raw", "dd"}, New)
}

type part struct {
	f    *os.File
	size int64
	base int64 // cumulative start offset in the logical image
}

// Image is the logical concatenation of one or more raw segment files,
// narrowed to [offset, offset+sizeLimit).
type Image struct {
	parts     []part
	total     int64
	offset    int64
	sizeLimit int64
}

// New opens files as a raw/DD evidence set.
func New(files []string, offset, sizeLimit int64, _ string) (image.Image, error) {
	if len(files) == 0 {
		return nil, xerr.New(xerr.ClassArgument, "raw: no source files given")
	}
	img := &Image{offset: offset, sizeLimit: sizeLimit}
	var base int64
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return nil, xerr.Wrapf(xerr.ClassIO, err, "raw: open %s", path)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, xerr.Wrapf(xerr.ClassIO, err, "raw: stat %s", path)
		}
		img.parts = append(img.parts, part{f: f, size: info.Size(), base: base})
		base += info.Size()
	}
	img.total = base
	return img, nil
}

// Size returns the logical (possibly offset/limited) length.
func (img *Image) Size() (int64, error) {
	n := img.total - img.offset
	if n < 0 {
		n = 0
	}
	if img.sizeLimit > 0 && n > img.sizeLimit {
		n = img.sizeLimit
	}
	return n, nil
}

// ReadAt reads from the concatenated parts at the narrowed offset.
func (img *Image) ReadAt(p []byte, off int64) (int, error) {
	size, _ := img.Size()
	if off < 0 || off >= size {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	if int64(len(p)) > size-off {
		p = p[:size-off]
	}
	abs := off + img.offset
	var n int
	for len(p) > 0 {
		pt, local, err := img.partFor(abs)
		if err != nil {
			return n, err
		}
		want := len(p)
		if avail := pt.size - local; int64(want) > avail {
			want = int(avail)
		}
		got, err := pt.f.ReadAt(p[:want], local)
		n += got
		p = p[got:]
		abs += int64(got)
		if err != nil && err != io.EOF {
			return n, xerr.Wrap(xerr.ClassIO, err, "raw: read")
		}
		if got == 0 {
			break
		}
	}
	return n, nil
}

func (img *Image) partFor(abs int64) (*part, int64, error) {
	for i := range img.parts {
		p := &img.parts[i]
		if abs < p.base+p.size {
			return p, abs - p.base, nil
		}
	}
	return nil, 0, xerr.New(xerr.ClassArgument, "raw: read past end of evidence")
}

// Close releases every open segment file.
func (img *Image) Close() error {
	var firstErr error
	for i := range img.parts {
		if err := img.parts[i].f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
