package registry

import (
	"github.com/xmount-go/xmount/pkg/image"
	"github.com/xmount-go/xmount/pkg/xerr"
)

// InputConstructor opens a logical image out of the given source
// files. For multi-file containers, the per-format plug-in owns the
// mapping from (segment index, in-segment offset) to logical offset.
// offset and sizeLimit narrow the exposed range; sizeLimit == 0 means
// unbounded.
type InputConstructor func(files []string, offset, sizeLimit int64, options string) (image.Image, error)

// RegisterInput publishes an input plug-in under name, claiming the
// given format strings.
func RegisterInput(name string, formats []string, ctor InputConstructor) {
	register(RoleInput, name, formats, ctor)
}

// OpenInput resolves format to its registered plug-in and opens it.
func OpenInput(format string, files []string, offset, sizeLimit int64, options string) (image.Image, error) {
	e, err := lookup(RoleInput, format)
	if err != nil {
		return nil, err
	}
	ctor, ok := e.ctor.(InputConstructor)
	if !ok {
		return nil, xerr.New(xerr.ClassArgument, "registry: input plug-in "+e.name+" has malformed constructor")
	}
	return ctor(files, offset, sizeLimit, options)
}
