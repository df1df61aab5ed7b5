package main

import (
	"github.com/spf13/cobra"
	"github.com/xmount-go/xmount/pkg/registry"
)

func init() {
	rootCmd.AddCommand(formatsCmd)
}

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List registered input, morph, and output plug-ins",
	RunE: func(cmd *cobra.Command, args []string) error {
		report := map[string][]string{
			"input":  registry.Names(registry.RoleInput),
			"morph":  registry.Names(registry.RoleMorph),
			"output": registry.Names(registry.RoleOutput),
		}
		if jsonOut {
			return printJSON(report)
		}
		for _, role := range []string{"input", "morph", "output"} {
			printInfo("%s:\n", role)
			for _, name := range report[role] {
				printInfo("  %s\n", name)
			}
		}
		return nil
	},
}
