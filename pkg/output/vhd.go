package output

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xmount-go/xmount/internal/wire"
	"github.com/xmount-go/xmount/pkg/fingerprint"
	"github.com/xmount-go/xmount/pkg/image"
	"github.com/xmount-go/xmount/pkg/registry"
)

func init() {
	registry.RegisterOutput("vhd", []string{"vhd"}, newVhd)
}

const vhdFooterSize = 512

// vhdEpoch is the VHD footer's timestamp epoch: 2000-01-01 00:00:00 UTC.
var vhdEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// vhdEnvelope appends a 512-byte fixed-disk footer after the morphed
// body, per the VHD image format specification.
type vhdEnvelope struct {
	framed
}

func newVhd(body image.Image, fp fingerprint.Fingerprint, _ string) (image.Envelope, error) {
	size, err := body.Size()
	if err != nil {
		return nil, err
	}

	footer := make([]byte, vhdFooterSize)
	copy(footer[0:8], "conectix")
	wire.PutU32BE(footer, 8, 0x00000002)  // features
	wire.PutU32BE(footer, 12, 0x00010000) // file format version
	for i := 16; i < 24; i++ {
		footer[i] = 0xFF // data offset: fixed disks carry no block allocation table
	}
	wire.PutU32BE(footer, 24, uint32(time.Now().UTC().Sub(vhdEpoch).Seconds()))
	copy(footer[28:32], "xmnt")
	wire.PutU32BE(footer, 32, 0x00010000) // creator version
	copy(footer[36:40], "Wi2k")
	wire.PutU64BE(footer, 40, uint64(size)) // original size
	wire.PutU64BE(footer, 48, uint64(size)) // current size

	cylinders, heads, sectorsPerTrack := vhdGeometry(size)
	wire.PutU16BE(footer, 56, cylinders)
	footer[58] = heads
	footer[59] = sectorsPerTrack

	wire.PutU32BE(footer, 60, 2) // disk type: fixed

	fpBytes := fp.Bytes()
	id, _ := uuid.FromBytes(fpBytes[:])
	copy(footer[68:84], id[:])

	var sum uint32
	for _, b := range footer {
		sum += uint32(b)
	}
	wire.PutU32BE(footer, 64, ^sum)

	return &vhdEnvelope{framed: newFramed(nil, body, size, footer)}, nil
}

// vhdGeometry derives the CHS geometry fixed disks store in their
// footer, per the VHD format specification's documented algorithm.
func vhdGeometry(size int64) (cylinders uint16, heads, sectorsPerTrack uint8) {
	totalSectors := size / 512
	const maxSectors = 65535 * 16 * 255
	if totalSectors > maxSectors {
		totalSectors = maxSectors
	}

	var cylinderTimesHeads int64
	if totalSectors >= 65535*16*63 {
		sectorsPerTrack = 255
		heads = 16
		cylinderTimesHeads = totalSectors / int64(sectorsPerTrack)
	} else {
		sectorsPerTrack = 17
		cylinderTimesHeads = totalSectors / int64(sectorsPerTrack)
		h := (cylinderTimesHeads + 1023) / 1024
		if h < 4 {
			h = 4
		}
		heads = uint8(h)
		if cylinderTimesHeads >= int64(heads)*1024 || heads > 16 {
			sectorsPerTrack = 31
			heads = 16
			cylinderTimesHeads = totalSectors / int64(sectorsPerTrack)
		}
		if cylinderTimesHeads >= int64(heads)*1024 {
			sectorsPerTrack = 63
			heads = 16
			cylinderTimesHeads = totalSectors / int64(sectorsPerTrack)
		}
	}
	cylinders = uint16(cylinderTimesHeads / int64(heads))
	return cylinders, heads, sectorsPerTrack
}

func (v *vhdEnvelope) InfofileContent() (string, error) {
	return fmt.Sprintf("Output format: VHD (fixed)\nVirtual disk size: %d bytes\n", v.bodySize), nil
}
