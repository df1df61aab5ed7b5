package pipeline

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xmount-go/xmount/pkg/fingerprint"
	"github.com/xmount-go/xmount/pkg/image"
	"github.com/xmount-go/xmount/pkg/registry"
)

// memImage is a minimal in-memory image.Image/Envelope test double,
// standing in for a real input/output plug-in so this package's tests
// don't depend on any concrete plug-in package.
type memImage struct {
	b      []byte
	body   image.Image // non-nil when this stands in for an output envelope wrapping a morphed body
	closed bool
}

func (m *memImage) Size() (int64, error) { return int64(len(m.b)), nil }
func (m *memImage) Close() error {
	m.closed = true
	if m.body != nil {
		return m.body.Close()
	}
	return nil
}
func (m *memImage) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.b[off:])
	return n, nil
}
func (m *memImage) WriteAt(p []byte, off int64) (int, error) {
	n := copy(m.b[off:], p)
	return n, nil
}
func (m *memImage) InfofileContent() (string, error) { return "test-envelope", nil }

var (
	lastOpenedInput  *memImage
	lastMorphInputs  []image.Image
	lastOutputBody   image.Image
	lastOutputFp     fingerprint.Fingerprint
	registerTestOnce bool
)

func registerTestPlugins() {
	if registerTestOnce {
		return
	}
	registerTestOnce = true

	registry.RegisterInput("test-input", []string{"testfmt"},
		func(files []string, offset, sizeLimit int64, options string) (image.Image, error) {
			m := &memImage{b: bytes.Repeat([]byte{0x55}, 256)}
			lastOpenedInput = m
			return m, nil
		})

	registry.RegisterMorph("test-morph", []string{"testmorph"},
		func(inputs []image.Image, options string) (image.Image, error) {
			lastMorphInputs = inputs
			return inputs[0], nil
		})

	registry.RegisterOutput("test-output", []string{"testout"},
		func(body image.Image, fp fingerprint.Fingerprint, options string) (image.Envelope, error) {
			lastOutputBody = body
			lastOutputFp = fp
			size, _ := body.Size()
			out := make([]byte, size)
			body.ReadAt(out, 0)
			return &memImage{b: out, body: body}, nil
		})
}

func testConfig(t *testing.T) Config {
	registerTestPlugins()
	return Config{
		Inputs: []InputSpec{
			{Format: "testfmt", Files: []string{"evidence.raw"}},
		},
		MorphType:    "testmorph",
		OutputFormat: "testout",
		CachePath:    filepath.Join(t.TempDir(), "cache.bin"),
	}
}

func TestBuildAssemblesAndFingerprints(t *testing.T) {
	cfg := testConfig(t)

	p, err := Build(cfg)
	require.NoError(t, err)
	defer p.Close()

	require.Len(t, lastMorphInputs, 1)
	require.Same(t, lastOpenedInput, lastMorphInputs[0])
	require.NotNil(t, lastOutputBody)

	size, err := p.Cache.Size()
	require.NoError(t, err)
	require.EqualValues(t, 256, size)

	var zero fingerprint.Fingerprint
	require.NotEqual(t, zero, lastOutputFp)
	require.Equal(t, lastOutputFp, p.Fingerprint)
}

func TestBuildRejectsMissingInputs(t *testing.T) {
	registerTestPlugins()
	cfg := Config{OutputFormat: "testout", CachePath: filepath.Join(t.TempDir(), "cache.bin")}

	_, err := Build(cfg)
	require.Error(t, err)
}

func TestBuildRejectsMissingCachePath(t *testing.T) {
	cfg := testConfig(t)
	cfg.CachePath = ""

	_, err := Build(cfg)
	require.Error(t, err)
}

func TestCloseClosesInputs(t *testing.T) {
	cfg := testConfig(t)

	p, err := Build(cfg)
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.True(t, lastOpenedInput.closed)
}
