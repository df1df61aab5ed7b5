// Package pipeline assembles one mount's worth of plug-ins into a
// single Envelope: open each input, morph them into one logical
// image, fingerprint it, wrap it in an output envelope, and interpose
// the copy-on-write cache in front of that envelope. Every plug-in
// package self-registers at init time (pkg/registry); pipeline never
// imports a concrete plug-in package directly, only cmd/xmountctl's
// blank imports do, mirroring hive/builder's staged New()-then-Commit
// assembly but with plug-in lookups standing in for hive sessions.
package pipeline

import (
	"github.com/xmount-go/xmount/pkg/cache"
	"github.com/xmount-go/xmount/pkg/fingerprint"
	"github.com/xmount-go/xmount/pkg/image"
	"github.com/xmount-go/xmount/pkg/registry"
	"github.com/xmount-go/xmount/pkg/xerr"
)

// InputSpec names one logical input image: a set of files opened by a
// single input plug-in (e.g. one EWF segment set, or one raw/split
// set), narrowed to [offset, offset+sizeLimit).
type InputSpec struct {
	// Format selects the registered input plug-in ("raw", "ewf",
	// "qcow2", "vdi").
	Format string
	// Files lists the container's constituent files, in order.
	Files []string
	// Offset skips this many bytes from the start of the logical
	// image. Default: 0.
	Offset int64
	// SizeLimit caps the exposed range to this many bytes past
	// Offset. Zero means unbounded.
	SizeLimit int64
	// Options is the plug-in-specific option string, as accepted by
	// the input plug-in's constructor.
	Options string
}

// Config fully describes one mount's plug-in chain.
type Config struct {
	// Inputs lists one or more logical input images, combined by
	// Morph into a single virtual image.
	Inputs []InputSpec

	// MorphType selects the registered morph plug-in. Default:
	// registry.DefaultMorphType ("combine").
	MorphType string
	// MorphOptions is passed verbatim to the morph plug-in.
	MorphOptions string

	// OutputFormat selects the registered output plug-in ("raw",
	// "dmg", "vdi", "vhd", "vmdk").
	OutputFormat string
	// OutputOptions is passed verbatim to the output plug-in.
	OutputOptions string

	// CachePath is the private cache file diverting writes away from
	// the evidence and the morphed view beneath it.
	CachePath string
	// CacheOverwrite discards any existing cache file at CachePath
	// instead of resuming from it.
	CacheOverwrite bool
}

// DefaultConfig returns a Config with the morph type defaulted; the
// caller must still fill in Inputs, OutputFormat, and CachePath.
func DefaultConfig() Config {
	return Config{MorphType: registry.DefaultMorphType}
}

// Pipeline is one assembled mount: a cache-fronted envelope plus the
// fingerprint computed once over the morphed body at assembly time.
type Pipeline struct {
	// Cache is the outermost capability the consumer (FUSE layer, CLI
	// inspection commands) addresses; it implements image.Envelope.
	Cache *cache.Cache
	// Fingerprint is the morphed image's partial-content identifier,
	// computed exactly once here and reused by Cache's underlying
	// envelope for VDI/VHD UUID fields.
	Fingerprint fingerprint.Fingerprint
}

// Build opens every input, morphs them into one image, fingerprints
// it, wraps it in the requested output envelope, and opens the
// write-diverting cache in front of that envelope. On any failure,
// every component opened so far is closed before returning.
func Build(cfg Config) (*Pipeline, error) {
	if len(cfg.Inputs) == 0 {
		return nil, xerr.New(xerr.ClassArgument, "pipeline: no input images configured")
	}
	if cfg.CachePath == "" {
		return nil, xerr.New(xerr.ClassArgument, "pipeline: no cache path configured")
	}

	morphType := cfg.MorphType
	if morphType == "" {
		morphType = registry.DefaultMorphType
	}

	inputs := make([]image.Image, 0, len(cfg.Inputs))
	closeInputs := func() {
		for _, in := range inputs {
			in.Close()
		}
	}

	for _, spec := range cfg.Inputs {
		in, err := registry.OpenInput(spec.Format, spec.Files, spec.Offset, spec.SizeLimit, spec.Options)
		if err != nil {
			closeInputs()
			return nil, err
		}
		inputs = append(inputs, in)
	}

	morphed, err := registry.OpenMorph(morphType, inputs, cfg.MorphOptions)
	if err != nil {
		closeInputs()
		return nil, err
	}
	// morphed now owns inputs (e.g. combined.Close() closes every
	// part), so every error path from here on closes morphed, never
	// closeInputs, to avoid double-closing the *os.File-backed inputs.

	fp, err := fingerprint.Compute(morphed)
	if err != nil {
		morphed.Close()
		return nil, err
	}

	envelope, err := registry.OpenOutput(cfg.OutputFormat, morphed, fp, cfg.OutputOptions)
	if err != nil {
		morphed.Close()
		return nil, err
	}

	c, err := cache.Open(cfg.CachePath, envelope, cfg.CacheOverwrite)
	if err != nil {
		envelope.Close() // cascades to morphed.Close() via framed.Close
		return nil, err
	}

	return &Pipeline{
		Cache:       c,
		Fingerprint: fp,
	}, nil
}

// Close tears the pipeline down through a single cascade: Cache.Close
// closes the wrapped envelope, whose Close in turn closes its body
// (pkg/output's framed.Close), which for the morph layer closes every
// input in c.parts (e.g. combined.Close). Assembly hands ownership of
// inputs to the morph layer, so Close must not also close them here —
// that would double-close the underlying *os.File-backed inputs.
func (p *Pipeline) Close() error {
	return p.Cache.Close()
}
