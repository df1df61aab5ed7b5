package output

import (
	"fmt"

	"github.com/xmount-go/xmount/pkg/fingerprint"
	"github.com/xmount-go/xmount/pkg/image"
	"github.com/xmount-go/xmount/pkg/registry"
)

func init() {
	registry.RegisterOutput("raw", []string{"raw", "dd"}, newRaw)
	registry.RegisterOutput("dmg", []string{"dmg"}, newRaw)
}

// rawEnvelope is a pure pass-through: the virtual file is exactly the
// morphed body, byte for byte.
type rawEnvelope struct {
	framed
}

func newRaw(body image.Image, fp fingerprint.Fingerprint, _ string) (image.Envelope, error) {
	size, err := body.Size()
	if err != nil {
		return nil, err
	}
	return &rawEnvelope{framed: newFramed(nil, body, size, nil)}, nil
}

func (r *rawEnvelope) InfofileContent() (string, error) {
	size, err := r.body.Size()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Output format: raw\nImage size: %d bytes\n", size), nil
}
