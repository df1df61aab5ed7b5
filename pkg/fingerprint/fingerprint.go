// Package fingerprint computes a partial-image identifier: an MD5
// digest of the first 10 MiB of the morphed image, used verbatim as
// the creation-UUID bytes in VDI and VHD envelopes so two mounts of
// the same evidence report the same envelope identity.
//
// xmount's own C implementation uses the same MD5 construction for
// this purpose, so crypto/md5 is used directly rather than
// substituting a third-party hash.
package fingerprint

import (
	"crypto/md5"
	"io"

	"github.com/opencontainers/go-digest"
	"github.com/xmount-go/xmount/pkg/image"
)

// PartialHashBytes is the amount of the morphed image read to compute
// the fingerprint: the first 10 MiB.
const PartialHashBytes = 10 * 1024 * 1024

// Fingerprint is the 128-bit digest, exposed as its low/high 64-bit
// halves for the output layer and as a typed digest.Digest for callers
// that want a content-addressed representation.
type Fingerprint [16]byte

// Algorithm is a custom go-digest algorithm identifier for the
// partial-image fingerprint, registered so the rest of the pipeline
// can carry it as a digest.Digest the way content-addressed systems in
// the retrieval pack do, even though the underlying hash is MD5-sized
// (128 bits) rather than one of go-digest's built-in algorithms.
const Algorithm digest.Algorithm = "xmount128"

func init() {
	digest.RegisterAlgorithm(Algorithm, md5.New)
}

// Low returns the low 64 bits, little-endian, for VDI/VHD UUID fields.
func (f Fingerprint) Low() uint64 {
	return uint64(f[0]) | uint64(f[1])<<8 | uint64(f[2])<<16 | uint64(f[3])<<24 |
		uint64(f[4])<<32 | uint64(f[5])<<40 | uint64(f[6])<<48 | uint64(f[7])<<56
}

// High returns the high 64 bits, little-endian.
func (f Fingerprint) High() uint64 {
	return uint64(f[8]) | uint64(f[9])<<8 | uint64(f[10])<<16 | uint64(f[11])<<24 |
		uint64(f[12])<<32 | uint64(f[13])<<40 | uint64(f[14])<<48 | uint64(f[15])<<56
}

// Digest formats f as a go-digest Digest under the Algorithm above.
func (f Fingerprint) Digest() digest.Digest {
	return digest.NewDigestFromBytes(Algorithm, f[:])
}

// Bytes returns the raw 16 bytes.
func (f Fingerprint) Bytes() [16]byte { return [16]byte(f) }

// Compute reads up to PartialHashBytes from img at offset zero and
// returns their MD5 digest. Called exactly once at pipeline assembly;
// the result is cached on the pipeline handle rather than recomputed
// per envelope read.
func Compute(img image.Image) (Fingerprint, error) {
	size, err := img.Size()
	if err != nil {
		return Fingerprint{}, err
	}
	limit := int64(PartialHashBytes)
	if size < limit {
		limit = size
	}
	h := md5.New()
	buf := make([]byte, 1<<20)
	var read int64
	var off int64
	for read < limit {
		want := len(buf)
		if remaining := limit - read; int64(want) > remaining {
			want = int(remaining)
		}
		n, err := img.ReadAt(buf[:want], off)
		if n > 0 {
			h.Write(buf[:n])
			off += int64(n)
			read += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return Fingerprint{}, err
		}
		if n == 0 {
			break
		}
	}
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp, nil
}
