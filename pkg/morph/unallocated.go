package morph

import (
	"strings"

	"github.com/xmount-go/xmount/internal/wire"
	"github.com/xmount-go/xmount/pkg/image"
	"github.com/xmount-go/xmount/pkg/registry"
	"github.com/xmount-go/xmount/pkg/xerr"
)

func init() {
	registry.RegisterMorph("unallocated", []string{"unallocated"}, newUnallocated)
}

// Volume header layout constants, big-endian throughout, grounded on
// Apple's published HFS Plus volume header layout.
const (
	hfsPlusVHOffset  = 1024
	hfsPlusVHSize    = 192
	hfsPlusSignature = 0x482B // "H+"
	hfsPlusVersion   = 4
)

type hfsPlusExtent struct {
	startBlock uint32
	blockCount uint32
}

type hfsPlusVH struct {
	blockSize     uint32
	totalBlocks   uint32
	freeBlocks    uint32
	allocFileSize uint64
	extents       [8]hfsPlusExtent
}

func decodeHfsPlusVH(b []byte) (hfsPlusVH, bool) {
	if len(b) < hfsPlusVHSize {
		return hfsPlusVH{}, false
	}
	if wire.ReadU16BE(b, 0) != hfsPlusSignature || wire.ReadU16BE(b, 2) != hfsPlusVersion {
		return hfsPlusVH{}, false
	}
	var h hfsPlusVH
	h.blockSize = wire.ReadU32BE(b, 40)
	h.totalBlocks = wire.ReadU32BE(b, 44)
	h.freeBlocks = wire.ReadU32BE(b, 48)
	h.allocFileSize = wire.ReadU64BE(b, 112)
	for i := 0; i < 8; i++ {
		off := 128 + i*8
		h.extents[i] = hfsPlusExtent{
			startBlock: wire.ReadU32BE(b, off),
			blockCount: wire.ReadU32BE(b, off+4),
		}
	}
	return h, true
}

// FAT BIOS parameter block layout, little-endian throughout, grounded
// on the Microsoft FAT specification's common boot-sector fields.
const fatVHSize = 40

type fatVH struct {
	jumpInst          byte
	bytesPerSector    uint16
	sectorsPerCluster uint8
	reservedSectors   uint16
	fatCount          uint8
	rootEntryCount    uint16
	totalSectors16    uint16
	mediaType         uint8
	fat16Sectors      uint16
	totalSectors32    uint32
	fat32Sectors      uint32
}

func decodeFatVH(b []byte) (fatVH, bool) {
	if len(b) < fatVHSize {
		return fatVH{}, false
	}
	h := fatVH{
		jumpInst:          b[0],
		bytesPerSector:    wire.ReadU16LE(b, 11),
		sectorsPerCluster: b[13],
		reservedSectors:   wire.ReadU16LE(b, 14),
		fatCount:          b[16],
		rootEntryCount:    wire.ReadU16LE(b, 17),
		totalSectors16:    wire.ReadU16LE(b, 19),
		mediaType:         b[21],
		fat16Sectors:      wire.ReadU16LE(b, 22),
		totalSectors32:    wire.ReadU32LE(b, 32),
		fat32Sectors:      wire.ReadU32LE(b, 36),
	}
	if h.jumpInst != 0xEB && h.jumpInst != 0xE9 {
		return fatVH{}, false
	}
	if h.bytesPerSector == 0 || h.bytesPerSector%512 != 0 {
		return fatVH{}, false
	}
	if h.sectorsPerCluster == 0 || h.sectorsPerCluster%2 != 0 {
		return fatVH{}, false
	}
	if h.reservedSectors == 0 || h.fatCount == 0 {
		return fatVH{}, false
	}
	if (h.totalSectors16 == 0) == (h.totalSectors32 == 0) {
		return fatVH{}, false
	}
	return h, true
}

func (h fatVH) fatSize() uint32 {
	if h.fat16Sectors != 0 {
		return uint32(h.fat16Sectors)
	}
	return h.fat32Sectors
}

func (h fatVH) totalSectors() uint32 {
	if h.totalSectors16 != 0 {
		return uint32(h.totalSectors16)
	}
	return h.totalSectors32
}

// clusterCount returns the number of data clusters, used both to pick
// a FAT subtype and to bound the chain walk.
func (h fatVH) clusterCount() uint32 {
	rootDirSectors := (uint32(h.rootEntryCount)*32 + uint32(h.bytesPerSector) - 1) / uint32(h.bytesPerSector)
	dataSectors := h.totalSectors() - (uint32(h.reservedSectors) + uint32(h.fatCount)*h.fatSize() + rootDirSectors)
	return dataSectors / uint32(h.sectorsPerCluster)
}

// fatSubtype infers FAT12/16/32 from the cluster count, per the
// thresholds the Microsoft FAT specification defines.
func fatSubtype(clusters uint32) string {
	switch {
	case clusters < 4085:
		return "fat12"
	case clusters < 65525:
		return "fat16"
	default:
		return "fat32"
	}
}

func (h fatVH) firstDataSector() uint32 {
	rootDirSectors := (uint32(h.rootEntryCount)*32 + uint32(h.bytesPerSector) - 1) / uint32(h.bytesPerSector)
	return uint32(h.reservedSectors) + uint32(h.fatCount)*h.fatSize() + rootDirSectors
}

// unallocated presents the concatenation of every cluster/block an
// input image's filesystem marks free, in ascending order.
type unallocated struct {
	in        image.Image
	blockSize int64
	freeBase  []int64 // physical byte offset of each free block, in presentation order
	size      int64
}

func newUnallocated(inputs []image.Image, options string) (image.Image, error) {
	if len(inputs) != 1 {
		return nil, xerr.New(xerr.ClassArgument, "unallocated: exactly one input image expected")
	}
	in := inputs[0]

	requested := parseUnallocatedFsOption(options)

	if requested == "" || requested == "hfs+" {
		free, blockSize, err := tryHfsPlus(in)
		if err == nil {
			return buildUnallocated(in, free, blockSize)
		}
		if requested == "hfs+" {
			return nil, err
		}
	}

	free, blockSize, err := tryFat(in, requested)
	if err != nil {
		return nil, xerr.New(xerr.ClassUnsupported, "unallocated: unable to detect a supported filesystem")
	}
	return buildUnallocated(in, free, blockSize)
}

func parseUnallocatedFsOption(options string) string {
	for _, kv := range strings.Split(options, ",") {
		kv = strings.TrimSpace(kv)
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if strings.TrimSpace(k) == "unallocated_fs" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func buildUnallocated(in image.Image, free []int64, blockSize int64) (image.Image, error) {
	return &unallocated{in: in, blockSize: blockSize, freeBase: free, size: int64(len(free)) * blockSize}, nil
}

// tryHfsPlus reads the HFS+ volume header and allocation file, and
// returns the byte offset of every block the allocation file's bitmap
// marks free.
func tryHfsPlus(in image.Image) ([]int64, int64, error) {
	buf := make([]byte, hfsPlusVHSize)
	if _, err := in.ReadAt(buf, hfsPlusVHOffset); err != nil {
		return nil, 0, xerr.Wrap(xerr.ClassIO, err, "unallocated: read HFS+ volume header")
	}
	vh, ok := decodeHfsPlusVH(buf)
	if !ok {
		return nil, 0, xerr.New(xerr.ClassIO, "unallocated: not an HFS+ volume")
	}

	allocFile := make([]byte, vh.allocFileSize)
	var written uint64
	for _, ext := range vh.extents {
		if ext.startBlock == 0 && ext.blockCount == 0 {
			break
		}
		for i := uint32(0); i < ext.blockCount; i++ {
			block := int64(ext.startBlock+i) * int64(vh.blockSize)
			if written+uint64(vh.blockSize) > vh.allocFileSize {
				return nil, 0, xerr.New(xerr.ClassIO, "unallocated: HFS+ allocation file extent overruns its declared size")
			}
			if _, err := in.ReadAt(allocFile[written:written+uint64(vh.blockSize)], block); err != nil {
				return nil, 0, xerr.Wrap(xerr.ClassIO, err, "unallocated: read HFS+ allocation file")
			}
			written += uint64(vh.blockSize)
		}
	}
	if written != vh.allocFileSize {
		return nil, 0, xerr.New(xerr.ClassUnsupported, "unallocated: HFS+ allocation file spans more than 8 extents")
	}

	var free []int64
	for block := uint32(0); block < vh.totalBlocks; block++ {
		byteIdx := block / 8
		bit := byte(1 << (7 - block%8))
		if byteIdx >= uint32(len(allocFile)) || allocFile[byteIdx]&bit == 0 {
			free = append(free, int64(block)*int64(vh.blockSize))
		}
	}
	return free, int64(vh.blockSize), nil
}

// tryFat reads the FAT boot sector, walks its first FAT table, and
// returns the byte offset of every data cluster whose FAT entry is
// zero (free).
func tryFat(in image.Image, requested string) ([]int64, int64, error) {
	buf := make([]byte, fatVHSize)
	if _, err := in.ReadAt(buf, 0); err != nil {
		return nil, 0, xerr.Wrap(xerr.ClassIO, err, "unallocated: read FAT boot sector")
	}
	vh, ok := decodeFatVH(buf)
	if !ok {
		return nil, 0, xerr.New(xerr.ClassIO, "unallocated: not a FAT volume")
	}

	subtype := requested
	if subtype == "" {
		subtype = fatSubtype(vh.clusterCount())
	}

	sectorSize := int64(vh.bytesPerSector)
	clusterSize := sectorSize * int64(vh.sectorsPerCluster)
	fatOffset := int64(vh.reservedSectors) * sectorSize
	firstDataSector := int64(vh.firstDataSector())
	clusters := vh.clusterCount()

	fatBytes := int64(vh.fatSize()) * sectorSize
	fatTable := make([]byte, fatBytes)
	if _, err := in.ReadAt(fatTable, fatOffset); err != nil {
		return nil, 0, xerr.Wrap(xerr.ClassIO, err, "unallocated: read FAT table")
	}

	var free []int64
	for cluster := uint32(2); cluster < clusters+2; cluster++ {
		if !fatEntryFree(fatTable, subtype, cluster) {
			continue
		}
		sector := firstDataSector + int64(cluster-2)*int64(vh.sectorsPerCluster)
		free = append(free, sector*sectorSize)
	}
	return free, clusterSize, nil
}

// fatEntryFree reports whether a FAT table entry is the zero value
// (unallocated), decoding it according to the given subtype's packed
// entry width.
func fatEntryFree(fat []byte, subtype string, cluster uint32) bool {
	switch subtype {
	case "fat12":
		byteOff := cluster + cluster/2
		if int(byteOff)+1 >= len(fat) {
			return false
		}
		v := uint16(fat[byteOff]) | uint16(fat[byteOff+1])<<8
		if cluster%2 == 0 {
			v &= 0x0FFF
		} else {
			v >>= 4
		}
		return v == 0
	case "fat16":
		off := int(cluster) * 2
		if off+2 > len(fat) {
			return false
		}
		return wire.ReadU16LE(fat, off) == 0
	default: // fat32
		off := int(cluster) * 4
		if off+4 > len(fat) {
			return false
		}
		return wire.ReadU32LE(fat, off)&0x0FFFFFFF == 0
	}
}

func (u *unallocated) Size() (int64, error) { return u.size, nil }
func (u *unallocated) Close() error         { return u.in.Close() }

func (u *unallocated) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= u.size {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, xerr.New(xerr.ClassArgument, "unallocated: read past end of morphed image")
	}
	if int64(len(p)) > u.size-off {
		p = p[:u.size-off]
	}
	var n int
	for len(p) > 0 {
		block := off / u.blockSize
		blockOff := off % u.blockSize
		want := len(p)
		if avail := u.blockSize - blockOff; int64(want) > avail {
			want = int(avail)
		}
		got, err := u.in.ReadAt(p[:want], u.freeBase[block]+blockOff)
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
