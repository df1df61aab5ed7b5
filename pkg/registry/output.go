package registry

import (
	"github.com/xmount-go/xmount/pkg/fingerprint"
	"github.com/xmount-go/xmount/pkg/image"
	"github.com/xmount-go/xmount/pkg/xerr"
)

// OutputConstructor wraps a morphed image body in an envelope. fp is
// the partial-image fingerprint computed once at pipeline assembly,
// made available to envelope builders that substitute it for a UUID
// (VDI, VHD).
type OutputConstructor func(body image.Image, fp fingerprint.Fingerprint, options string) (image.Envelope, error)

// RegisterOutput publishes an output plug-in under name, claiming the
// given format strings.
func RegisterOutput(name string, formats []string, ctor OutputConstructor) {
	register(RoleOutput, name, formats, ctor)
}

// OpenOutput resolves format to its registered plug-in and wraps body.
func OpenOutput(format string, body image.Image, fp fingerprint.Fingerprint, options string) (image.Envelope, error) {
	e, err := lookup(RoleOutput, format)
	if err != nil {
		return nil, err
	}
	ctor, ok := e.ctor.(OutputConstructor)
	if !ok {
		return nil, xerr.New(xerr.ClassArgument, "registry: output plug-in "+e.name+" has malformed constructor")
	}
	return ctor(body, fp, options)
}
