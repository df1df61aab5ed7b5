package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xmount-go/xmount/internal/wire"
	"github.com/xmount-go/xmount/pkg/fingerprint"
)

func TestVdiEnvelopeHeaderAndBody(t *testing.T) {
	body := &memImage{b: bytes.Repeat([]byte{0x11}, 1024)}
	var fp fingerprint.Fingerprint
	copy(fp[:], bytes.Repeat([]byte{0x42}, 16))

	env, err := newVdi(body, fp, "")
	require.NoError(t, err)

	size, err := env.Size()
	require.NoError(t, err)
	require.EqualValues(t, vdiHeaderSize+4+len(body.b), size)

	hdr := make([]byte, vdiHeaderSize)
	_, err = env.ReadAt(hdr, 0)
	require.NoError(t, err)
	wantText := make([]byte, vdiHeaderTextLen)
	copy(wantText, vdiHeaderText)
	require.Equal(t, wantText, hdr[0:vdiHeaderTextLen])
	require.EqualValues(t, vdiSignature, wire.ReadU32LE(hdr, vdiHeaderTextLen))
	require.EqualValues(t, vdiVersion, wire.ReadU32LE(hdr, vdiHeaderTextLen+4))

	out := make([]byte, len(body.b))
	_, err = env.ReadAt(out, vdiHeaderSize+4)
	require.NoError(t, err)
	require.Equal(t, body.b, out)

	// A read straddling the header/body boundary must splice both.
	straddle := make([]byte, 8)
	_, err = env.ReadAt(straddle, int64(vdiHeaderSize+4-4))
	require.NoError(t, err)
	require.Equal(t, body.b[:4], straddle[4:])
}
