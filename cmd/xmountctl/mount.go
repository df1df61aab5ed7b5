package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xmount-go/xmount/pkg/mount"
	"github.com/xmount-go/xmount/pkg/pipeline"
	"github.com/xmount-go/xmount/pkg/registry"
)

var mountFlags struct {
	inFormat   string
	inOptions  string
	offset     int64
	sizeLimit  int64
	morph      string
	morphOpts  string
	outFormat  string
	outOptions string
	cachePath  string
	overwrite  bool
}

func init() {
	cmd := newMountCmd()
	rootCmd.AddCommand(cmd)
}

func newMountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount <evidence-file>... <mountpoint>",
		Short: "Assemble a pipeline and report the virtual file set it exposes",
		Long: `mount opens the given evidence files through the input, morph, and output
plug-ins named by --in-format/--morph/--out-format, computes the
fingerprint, and opens the copy-on-write cache at --cache.

This build does not include a FUSE binding: that handler layer is an
external collaborator (pkg/mount.Binder). mount validates the full
chain end to end and reports the virtual file names and sizes a
binding would expose at the mount point, then closes the pipeline.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMount(args)
		},
	}
	cmd.Flags().StringVar(&mountFlags.inFormat, "in-format", "raw", "input plug-in format")
	cmd.Flags().StringVar(&mountFlags.inOptions, "in-options", "", "input plug-in option string")
	cmd.Flags().Int64Var(&mountFlags.offset, "offset", 0, "skip this many bytes of the input")
	cmd.Flags().Int64Var(&mountFlags.sizeLimit, "size-limit", 0, "cap the exposed input range (0 = unbounded)")
	cmd.Flags().StringVar(&mountFlags.morph, "morph", registry.DefaultMorphType, "morph plug-in")
	cmd.Flags().StringVar(&mountFlags.morphOpts, "morph-options", "", "morph plug-in option string")
	cmd.Flags().StringVar(&mountFlags.outFormat, "out-format", "dd", "output envelope format")
	cmd.Flags().StringVar(&mountFlags.outOptions, "out-options", "", "output plug-in option string")
	cmd.Flags().StringVar(&mountFlags.cachePath, "cache", "", "copy-on-write cache file path (required)")
	cmd.Flags().BoolVar(&mountFlags.overwrite, "overwrite-cache", false, "discard any existing cache file")
	cmd.MarkFlagRequired("cache")
	return cmd
}

func runMount(args []string) error {
	evidence := args[:len(args)-1]
	mountpoint := args[len(args)-1]

	log().WithField("files", evidence).Debug("opening evidence")

	p, err := pipeline.Build(pipeline.Config{
		Inputs: []pipeline.InputSpec{{
			Format:    mountFlags.inFormat,
			Files:     evidence,
			Offset:    mountFlags.offset,
			SizeLimit: mountFlags.sizeLimit,
			Options:   mountFlags.inOptions,
		}},
		MorphType:      mountFlags.morph,
		MorphOptions:   mountFlags.morphOpts,
		OutputFormat:   mountFlags.outFormat,
		OutputOptions:  mountFlags.outOptions,
		CachePath:      mountFlags.cachePath,
		CacheOverwrite: mountFlags.overwrite,
	})
	if err != nil {
		return fmt.Errorf("assemble pipeline: %w", err)
	}
	defer p.Close()

	pres, err := mount.Present(p, "xmount."+mountFlags.outFormat)
	if err != nil {
		return fmt.Errorf("present virtual files: %w", err)
	}

	size, err := p.Cache.Size()
	if err != nil {
		return fmt.Errorf("stat envelope: %w", err)
	}

	if jsonOut {
		return printJSON(map[string]any{
			"mountpoint":  mountpoint,
			"fingerprint": fmt.Sprintf("%x", p.Fingerprint.Bytes()),
			"main_file":   pres.Main.Name,
			"size_bytes":  size,
		})
	}

	printInfo("Mount point: %s (not bound: no FUSE handler in this build)\n", mountpoint)
	printInfo("  %s\t%d bytes\n", pres.Main.Name, size)
	printInfo("  %s\n", pres.Info.Name)
	for _, aux := range pres.Auxiliary {
		printInfo("  %s\n", aux.Name)
	}
	return nil
}
