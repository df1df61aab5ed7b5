package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xmount-go/xmount/internal/wire"
	"github.com/xmount-go/xmount/pkg/fingerprint"
)

func TestVhdEnvelopeFooterAndChecksum(t *testing.T) {
	body := &memImage{b: bytes.Repeat([]byte{0x33}, 2048)}
	var fp fingerprint.Fingerprint
	copy(fp[:], bytes.Repeat([]byte{0x7E}, 16))

	env, err := newVhd(body, fp, "")
	require.NoError(t, err)

	size, err := env.Size()
	require.NoError(t, err)
	require.EqualValues(t, len(body.b)+vhdFooterSize, size)

	out := make([]byte, len(body.b))
	_, err = env.ReadAt(out, 0)
	require.NoError(t, err)
	require.Equal(t, body.b, out)

	footer := make([]byte, vhdFooterSize)
	_, err = env.ReadAt(footer, int64(len(body.b)))
	require.NoError(t, err)
	require.Equal(t, "conectix", string(footer[0:8]))
	require.EqualValues(t, 2, wire.ReadU32BE(footer, 60)) // disk type: fixed

	// Checksum is the one's complement of the footer sum with the
	// checksum field itself zeroed.
	stored := wire.ReadU32BE(footer, 64)
	wire.PutU32BE(footer, 64, 0)
	var sum uint32
	for _, b := range footer {
		sum += uint32(b)
	}
	require.EqualValues(t, ^sum, stored)
}

func TestVhdGeometrySmallDisk(t *testing.T) {
	c, h, s := vhdGeometry(10 * 1024 * 1024)
	require.Positive(t, c)
	require.Positive(t, h)
	require.Positive(t, s)
}
