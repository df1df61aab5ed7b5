package registry

import (
	"github.com/xmount-go/xmount/pkg/image"
	"github.com/xmount-go/xmount/pkg/xerr"
)

// MorphConstructor composes N input images into a single virtual
// image.
type MorphConstructor func(inputs []image.Image, options string) (image.Image, error)

// RegisterMorph publishes a morph plug-in under name, claiming the
// given morph-type strings (e.g. "combine", "swab").
func RegisterMorph(name string, formats []string, ctor MorphConstructor) {
	register(RoleMorph, name, formats, ctor)
}

// OpenMorph resolves morphType to its registered plug-in and invokes
// it exactly once. xmount's original C implementation calls its morph
// hook twice on some paths; that double-call is not reproduced here.
func OpenMorph(morphType string, inputs []image.Image, options string) (image.Image, error) {
	e, err := lookup(RoleMorph, morphType)
	if err != nil {
		return nil, err
	}
	ctor, ok := e.ctor.(MorphConstructor)
	if !ok {
		return nil, xerr.New(xerr.ClassArgument, "registry: morph plug-in "+e.name+" has malformed constructor")
	}
	return ctor(inputs, options)
}

// DefaultMorphType is used when the configuration names none.
const DefaultMorphType = "combine"
