package output

import (
	"fmt"
	"sync"

	"github.com/xmount-go/xmount/pkg/fingerprint"
	"github.com/xmount-go/xmount/pkg/image"
	"github.com/xmount-go/xmount/pkg/registry"
	"github.com/xmount-go/xmount/pkg/xerr"
)

func init() {
	registry.RegisterOutput("vmdk", []string{"vmdk", "vmdks"}, newVmdk)
}

// LockFileSet is the auxiliary capability a VMDK envelope exposes
// beyond image.Envelope: VMDK clients (ESX/VMware Workstation) create,
// write, rename, and delete small lock artifacts alongside the main
// extent. The mount layer consults this interface for the descriptor
// and the lock files, i.e. every entry except the extent itself; none
// of it touches the underlying evidence.
type LockFileSet interface {
	// Descriptor returns the synthesized text descriptor's sibling
	// file name and contents.
	Descriptor() (name string, content []byte)
	CreateLock(name string) error
	WriteLock(name string, data []byte) error
	RenameLock(oldName, newName string) error
	RemoveLock(name string) error
	ReadLock(name string) ([]byte, bool)
	ListLocks() []string
}

// vmdkEnvelope is a raw pass-through extent plus an in-memory text
// descriptor and a set of in-memory lock files. Only the extent itself
// (ReadAt/WriteAt/Size) is ever attributed to the evidence; the
// descriptor and locks live for the life of the handle only.
type vmdkEnvelope struct {
	framed
	extentName string
	descriptor []byte

	mu    sync.Mutex
	locks map[string][]byte
}

func newVmdk(body image.Image, fp fingerprint.Fingerprint, _ string) (image.Envelope, error) {
	size, err := body.Size()
	if err != nil {
		return nil, err
	}
	const extentName = "xmount.vmdk.extent"
	sectorCount := (size + 511) / 512
	descriptor := []byte(fmt.Sprintf(
		"version=1\nCID=fffffffe\nparentCID=ffffffff\ncreateType=monolithicFlat\n\n"+
			"# Extent description\nRW %d FLAT \"%s\" 0\n\n"+
			"# The disk Data Base\n#DDB\n\nddb.adapterType = \"ide\"\n",
		sectorCount, extentName,
	))

	return &vmdkEnvelope{
		framed:     newFramed(nil, body, size, nil),
		extentName: extentName,
		descriptor: descriptor,
		locks:      make(map[string][]byte),
	}, nil
}

func (v *vmdkEnvelope) InfofileContent() (string, error) {
	return fmt.Sprintf("Output format: VMDK (monolithic flat)\nExtent file: %s\nVirtual disk size: %d bytes\n",
		v.extentName, v.bodySize), nil
}

// Descriptor returns the synthesized text descriptor's sibling file
// name and content, for the mount layer to present alongside the
// extent.
func (v *vmdkEnvelope) Descriptor() (name string, content []byte) {
	return "xmount.vmdk", v.descriptor
}

func (v *vmdkEnvelope) CreateLock(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, exists := v.locks[name]; exists {
		return xerr.New(xerr.ClassArgument, "output: vmdk lock "+name+" already exists")
	}
	v.locks[name] = nil
	return nil
}

func (v *vmdkEnvelope) WriteLock(name string, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, exists := v.locks[name]; !exists {
		return xerr.New(xerr.ClassArgument, "output: vmdk lock "+name+" does not exist")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	v.locks[name] = cp
	return nil
}

func (v *vmdkEnvelope) RenameLock(oldName, newName string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	data, exists := v.locks[oldName]
	if !exists {
		return xerr.New(xerr.ClassArgument, "output: vmdk lock "+oldName+" does not exist")
	}
	delete(v.locks, oldName)
	v.locks[newName] = data
	return nil
}

func (v *vmdkEnvelope) RemoveLock(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, exists := v.locks[name]; !exists {
		return xerr.New(xerr.ClassArgument, "output: vmdk lock "+name+" does not exist")
	}
	delete(v.locks, name)
	return nil
}

func (v *vmdkEnvelope) ReadLock(name string) ([]byte, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	data, exists := v.locks[name]
	return data, exists
}

func (v *vmdkEnvelope) ListLocks() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	names := make([]string, 0, len(v.locks))
	for name := range v.locks {
		names = append(names, name)
	}
	return names
}
