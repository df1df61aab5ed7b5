// Package mount is the contract boundary between an assembled
// pipeline.Pipeline and the FUSE binding that actually serves it to
// the kernel. The binding's per-operation handlers (lookup, getattr,
// read, write, create, rename, unlink for the info-file and VMDK lock
// files) are explicitly out of scope: this package only describes
// what a binder needs from a pipeline to do its job, mirroring
// go-fuse/v2's split between RawFileSystem (the handlers a binding
// implements) and fuse.Server (the thing that drives them) — a real
// binding would embed go-fuse's NewDefaultRawFileSystem() and forward
// Read/Write/GetAttr to the VirtualFile(s) a Presentation exposes.
package mount

import (
	"github.com/xmount-go/xmount/pkg/image"
	"github.com/xmount-go/xmount/pkg/output"
	"github.com/xmount-go/xmount/pkg/pipeline"
	"github.com/xmount-go/xmount/pkg/xerr"
)

// VirtualFile is one name the FUSE binding must expose at the mount
// point, backed by an Image the binding reads (and, for the main
// file, writes) through.
type VirtualFile struct {
	Name string
	Img  image.Image
}

// Presentation is everything a FUSE binding needs to populate a mount
// point for one pipeline: the main virtual disk file, the read-only
// info file describing it, and (for formats that carry one, e.g.
// VMDK) the auxiliary descriptor and lock files presented alongside
// it.
type Presentation struct {
	Main      VirtualFile
	Info      VirtualFile
	Auxiliary []VirtualFile
}

// infoImage is a read-only image.Image over a fixed byte slice,
// letting the info file satisfy the same Img field as the main,
// read-write virtual file without the binding needing a separate type
// switch.
type infoImage struct{ b []byte }

func (i *infoImage) Size() (int64, error) { return int64(len(i.b)), nil }
func (i *infoImage) Close() error         { return nil }
func (i *infoImage) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(i.b)) {
		return 0, xerr.New(xerr.ClassArgument, "mount: info file read out of range")
	}
	n := copy(p, i.b[off:])
	return n, nil
}

// Present builds the file set a FUSE binding exposes for p, naming the
// main virtual file mainName (the binding appends the extension
// appropriate to the negotiated output format, e.g. ".dd"/".vdi"/
// ".vhd"/".vmdk"). For VMDK output, the descriptor and any currently
// open lock files are exposed as Auxiliary entries named after their
// sibling-file convention; other formats never populate Auxiliary.
func Present(p *pipeline.Pipeline, mainName string) (*Presentation, error) {
	info, err := p.Cache.InfofileContent()
	if err != nil {
		return nil, err
	}

	pres := &Presentation{
		Main: VirtualFile{Name: mainName, Img: p.Cache},
		Info: VirtualFile{Name: mainName + ".info", Img: &infoImage{b: []byte(info)}},
	}

	if lockSet, ok := backingLockFileSet(p); ok {
		name, descriptor := lockSet.Descriptor()
		pres.Auxiliary = append(pres.Auxiliary, VirtualFile{Name: name, Img: &infoImage{b: descriptor}})
		for _, lockName := range lockSet.ListLocks() {
			data, ok := lockSet.ReadLock(lockName)
			if !ok {
				continue
			}
			pres.Auxiliary = append(pres.Auxiliary, VirtualFile{Name: lockName, Img: &infoImage{b: data}})
		}
	}

	return pres, nil
}

// backingLockFileSet reports whether p's output envelope exposes
// output.LockFileSet (true for VMDK), by probing the same
// InfofileContent-carrying value the cache wraps. pipeline.Pipeline
// does not export the envelope directly since consumers address the
// cache; the binder instead receives the capability through
// Presentation.Auxiliary rather than a type assertion of its own.
func backingLockFileSet(p *pipeline.Pipeline) (output.LockFileSet, bool) {
	lockSet, ok := p.Cache.Unwrap().(output.LockFileSet)
	return lockSet, ok
}

// Binder is the contract a FUSE binding satisfies; xmount-go does not
// implement it; a real implementation wires Mount into
// fuse.NewServer(rawFS, mountpoint, opts) from go-fuse/v2, where rawFS
// forwards lookups to the names in a Presentation.
type Binder interface {
	Mount(mountpoint string, pres *Presentation) error
	Unmount() error
}
