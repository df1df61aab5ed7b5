// Package wire provides endian-aware binary struct decoding helpers shared
// by the input and output plug-ins. Evidence containers mix byte orders:
// EWF and VDI are little-endian, QCOW2 headers and VHD footers are
// big-endian, so every helper here is spelled out explicitly rather than
// relying on a single package-wide endianness.
package wire

import "encoding/binary"

// Little-endian reads, used by EWF sections and VDI headers.

func ReadU16LE(b []byte, off int) uint16 { return binary.LittleEndian.Uint16(b[off : off+2]) }
func ReadU32LE(b []byte, off int) uint32 { return binary.LittleEndian.Uint32(b[off : off+4]) }
func ReadU64LE(b []byte, off int) uint64 { return binary.LittleEndian.Uint64(b[off : off+8]) }

func PutU16LE(b []byte, off int, v uint16) { binary.LittleEndian.PutUint16(b[off:off+2], v) }
func PutU32LE(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:off+4], v) }
func PutU64LE(b []byte, off int, v uint64) { binary.LittleEndian.PutUint64(b[off:off+8], v) }

// Big-endian reads, used by QCOW2 headers and L1/L2 tables.

func ReadU16BE(b []byte, off int) uint16 { return binary.BigEndian.Uint16(b[off : off+2]) }
func ReadU32BE(b []byte, off int) uint32 { return binary.BigEndian.Uint32(b[off : off+4]) }
func ReadU64BE(b []byte, off int) uint64 { return binary.BigEndian.Uint64(b[off : off+8]) }

func PutU16BE(b []byte, off int, v uint16) { binary.BigEndian.PutUint16(b[off:off+2], v) }
func PutU32BE(b []byte, off int, v uint32) { binary.BigEndian.PutUint32(b[off:off+4], v) }
func PutU64BE(b []byte, off int, v uint64) { binary.BigEndian.PutUint64(b[off:off+8], v) }

// CString returns the NUL-terminated string starting at b, or the whole
// slice if no terminator is present.
func CString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// SplitPackedStrings splits a double-NUL-terminated sequence of
// NUL-terminated ASCII strings, the layout a plug-in's supported-
// formats vector is packed in.
func SplitPackedStrings(b []byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(b); i++ {
		if b[i] == 0 {
			if i == start {
				break // empty string marks end of packed list
			}
			out = append(out, string(b[start:i]))
			start = i + 1
		}
	}
	return out
}
