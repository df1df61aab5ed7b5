package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xmount-go/xmount/pkg/fingerprint"
)

func TestRawEnvelopePassesThroughBody(t *testing.T) {
	body := &memImage{b: bytes.Repeat([]byte{0x5A}, 4096)}
	env, err := newRaw(body, fingerprint.Fingerprint{}, "")
	require.NoError(t, err)

	size, err := env.Size()
	require.NoError(t, err)
	require.EqualValues(t, 4096, size)

	out := make([]byte, 4096)
	_, err = env.ReadAt(out, 0)
	require.NoError(t, err)
	require.Equal(t, body.b, out)

	_, err = env.WriteAt(out, 0)
	require.Error(t, err)

	require.NoError(t, env.Close())
	require.True(t, body.closed)
}
