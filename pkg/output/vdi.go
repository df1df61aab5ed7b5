package output

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/xmount-go/xmount/internal/wire"
	"github.com/xmount-go/xmount/pkg/fingerprint"
	"github.com/xmount-go/xmount/pkg/image"
	"github.com/xmount-go/xmount/pkg/registry"
)

func init() {
	registry.RegisterOutput("vdi", []string{"vdi"}, newVdi)
}

const (
	vdiSignature     = 0xBEDA107F
	vdiVersion       = 0x00010001
	vdiImageType     = 1 // dynamic: the envelope always carries a block map
	vdiHeaderTextLen = 0x40
	vdiDescLen       = 256
	vdiHeaderText    = "<<< Oracle VirtualBox Disk Image >>>\n"
)

// vdiHeaderSize mirrors pkg/input/vdi's headerSize: text field, five
// leading u32s, description, then the fixed field block through the
// four UUIDs and seven reserved u64s.
const vdiHeaderSize = vdiHeaderTextLen + 4 + 4 + 4 + 4 + 4 + vdiDescLen +
	4 + 4 + 4 + 4 + 4 + 4 + 4 + 8 + 4 + 4 + 4 + 4 + 16*4 + 7*8

// vdiEnvelope prepends a VirtualBox VDI header and a single-entry,
// identity-mapped block map ahead of the morphed body: the whole body
// is presented as one block, so the sparse block-map machinery
// degenerates to a single direct entry while still matching the
// on-disk shape VirtualBox expects.
type vdiEnvelope struct {
	framed
}

func newVdi(body image.Image, fp fingerprint.Fingerprint, _ string) (image.Envelope, error) {
	size, err := body.Size()
	if err != nil {
		return nil, err
	}
	blockSize := size
	if blockSize == 0 {
		blockSize = 1
	}

	hdr := make([]byte, vdiHeaderSize)
	copy(hdr[0:vdiHeaderTextLen], vdiHeaderText)
	off := vdiHeaderTextLen
	wire.PutU32LE(hdr, off, vdiSignature)
	wire.PutU32LE(hdr, off+4, vdiVersion)
	wire.PutU32LE(hdr, off+8, vdiHeaderSize)
	wire.PutU32LE(hdr, off+12, vdiImageType)
	descOff := off + 20
	fieldsOff := descOff + vdiDescLen
	offsetBmap := vdiHeaderSize
	offsetData := offsetBmap + 4
	wire.PutU32LE(hdr, fieldsOff, uint32(offsetBmap))
	wire.PutU32LE(hdr, fieldsOff+4, uint32(offsetData))
	wire.PutU32LE(hdr, fieldsOff+20, 512) // sectorSize
	wire.PutU64LE(hdr, fieldsOff+28, uint64(size))
	wire.PutU32LE(hdr, fieldsOff+36, uint32(blockSize))
	wire.PutU32LE(hdr, fieldsOff+40, 0) // blockExtra
	wire.PutU32LE(hdr, fieldsOff+44, 1) // blocksInImage

	fpBytes := fp.Bytes()
	creationUUID, _ := uuid.FromBytes(fpBytes[:])
	modifyUUID := creationUUID
	uuidsOff := fieldsOff + 48
	copy(hdr[uuidsOff:], creationUUID[:])
	copy(hdr[uuidsOff+16:], modifyUUID[:])

	prefix := make([]byte, 0, vdiHeaderSize+4)
	prefix = append(prefix, hdr...)
	bmap := make([]byte, 4)
	wire.PutU32LE(bmap, 0, 0) // the single block maps to file offset zero
	prefix = append(prefix, bmap...)

	return &vdiEnvelope{framed: newFramed(prefix, body, size, nil)}, nil
}

func (v *vdiEnvelope) InfofileContent() (string, error) {
	return fmt.Sprintf("Output format: VDI\nVirtual disk size: %d bytes\n", v.bodySize), nil
}
