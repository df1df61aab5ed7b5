// Package registry is the plug-in loader and dispatcher: each input,
// morph, and output format is served by a plug-in package that
// registers itself under a role and a supported-format list. xmount's
// original C implementation discovers shared objects at startup and
// probes an ABI-version symbol to build a function table per role. A
// statically linked Go binary has no equivalent of dlopen'ing an
// install directory, so discovery becomes the init-time
// self-registration idiom used by database/sql and image/*: every
// plug-in package registers itself as a side effect of being
// imported, and cmd/xmountctl blank-imports every built-in plug-in
// package. The capability-shape check enforced by a runtime symbol
// probe in C becomes a compile-time check here: a plug-in package that
// does not satisfy the role's constructor signature fails to compile.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xmount-go/xmount/pkg/xerr"
)

// Role identifies which of the three plug-in kinds an entry belongs to.
type Role string

const (
	RoleInput  Role = "input"
	RoleMorph  Role = "morph"
	RoleOutput Role = "output"
)

// entry holds one plug-in's metadata: role, human name, and the
// claimed format list. ctor is an opaque constructor whose concrete
// signature depends on Role; the typed Register/Lookup wrappers in
// input.go/morph.go/output.go restore type safety.
type entry struct {
	role    Role
	name    string
	formats []string
	ctor    any
	seq     int // registration order, used by Names
}

var (
	mu       sync.Mutex
	entries  []*entry
	bySeq    int
	byRole   = map[Role][]*entry{}
	formatOf = map[Role]map[string]*entry{}
)

// register records a plug-in entry. It is called only by the typed
// per-role Register functions below, never directly.
func register(role Role, name string, formats []string, ctor any) {
	mu.Lock()
	defer mu.Unlock()
	bySeq++
	e := &entry{role: role, name: name, formats: formats, ctor: ctor, seq: bySeq}
	entries = append(entries, e)
	byRole[role] = append(byRole[role], e)
	if formatOf[role] == nil {
		formatOf[role] = map[string]*entry{}
	}
	for _, f := range formats {
		if _, exists := formatOf[role][f]; !exists {
			formatOf[role][f] = e
		}
	}
}

// lookup resolves format to the first-registered plug-in of role that
// claims it, by exact case-sensitive match against the format map that
// register fills (the first plug-in to claim a format keeps it).
func lookup(role Role, format string) (*entry, error) {
	mu.Lock()
	defer mu.Unlock()
	if e, ok := formatOf[role][format]; ok {
		return e, nil
	}
	return nil, xerr.New(xerr.ClassUnsupported, fmt.Sprintf("registry: unsupported %s format %q", role, format))
}

// Names returns the registered plug-in names for role, in registration
// order, for diagnostics (--options help text, logging).
func Names(role Role) []string {
	mu.Lock()
	defer mu.Unlock()
	es := append([]*entry(nil), byRole[role]...)
	sort.Slice(es, func(i, j int) bool { return es[i].seq < es[j].seq })
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.name
	}
	return out
}
