package morph

import (
	"github.com/xmount-go/xmount/pkg/image"
	"github.com/xmount-go/xmount/pkg/registry"
	"github.com/xmount-go/xmount/pkg/xerr"
)

func init() {
	registry.RegisterMorph("byteswap", []string{"byteswap"}, newSwapped)
	registry.RegisterMorph("swab", []string{"swab"}, newSwapped)
}

// swapped presents a single even-sized input with each 16-bit word's
// bytes exchanged. The swap is always anchored at an even absolute
// offset, so a request starting or ending mid-word is served by
// reading a window widened out to the enclosing word boundaries,
// swapping it in full, and returning only the requested slice — this
// naturally preserves the source's leading byte for an odd starting
// offset, since the widened window always starts at the even byte
// below it.
type swapped struct {
	in   image.Image
	size int64
}

func newSwapped(inputs []image.Image, _ string) (image.Image, error) {
	if len(inputs) != 1 {
		return nil, xerr.New(xerr.ClassArgument, "byteswap: exactly one input image expected")
	}
	size, err := inputs[0].Size()
	if err != nil {
		return nil, err
	}
	if size%2 != 0 {
		return nil, xerr.New(xerr.ClassArgument, "byteswap: input size must be even")
	}
	return &swapped{in: inputs[0], size: size}, nil
}

func (s *swapped) Size() (int64, error) { return s.size, nil }
func (s *swapped) Close() error         { return s.in.Close() }

func (s *swapped) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= s.size {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, xerr.New(xerr.ClassArgument, "byteswap: read past end of morphed image")
	}
	if int64(len(p)) > s.size-off {
		p = p[:s.size-off]
	}
	if len(p) == 0 {
		return 0, nil
	}

	windowStart := off &^ 1
	windowEnd := (off + int64(len(p)) + 1) &^ 1
	if windowEnd > s.size {
		windowEnd = s.size
	}
	window := make([]byte, windowEnd-windowStart)
	if _, err := s.in.ReadAt(window, windowStart); err != nil {
		return 0, err
	}
	swapPairs(window)

	skip := off - windowStart
	n := copy(p, window[skip:])
	return n, nil
}

// swapPairs exchanges the two bytes of every adjacent pair in place.
// If b has an odd length, its final byte is left untouched.
func swapPairs(b []byte) {
	for i := 0; i+1 < len(b); i += 2 {
		b[i], b[i+1] = b[i+1], b[i]
	}
}
