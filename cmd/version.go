package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information set via ldflags during build.
//
//nolint:gochecknoglobals // Set by the build system.
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

func newVersionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if short {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), Version)
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "enrichd %s (commit %s, built %s)\n", Version, Commit, BuildTime)
			return err
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Show only version number")
	return cmd
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	rootCmd.AddCommand(newVersionCmd())
}
