package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/xmount-go/xmount/internal/xlog"

	_ "github.com/xmount-go/xmount/pkg/input/ewf"
	_ "github.com/xmount-go/xmount/pkg/input/qcow2"
	_ "github.com/xmount-go/xmount/pkg/input/raw"
	_ "github.com/xmount-go/xmount/pkg/input/vdi"
	_ "github.com/xmount-go/xmount/pkg/morph"
	_ "github.com/xmount-go/xmount/pkg/output"
)

var (
	verbose bool
	quiet   bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "xmountctl",
	Short: "Expose forensic disk images as a virtual block file",
	Long: `xmountctl assembles one or more evidence containers (EWF, QCOW2, VDI,
raw/split DD) into a single morphed image, wraps it in a chosen output
envelope (raw, DMG, VDI, VHD, VMDK) behind a copy-on-write cache that
never touches the original evidence, and reports the virtual file set
a FUSE binding would expose. This build contains no FUSE binding.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")

	cobra.OnInitialize(func() {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
		if quiet {
			logrus.SetLevel(logrus.ErrorLevel)
		}
	})
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

func log() *logrus.Entry {
	return xlog.Component("cli")
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
