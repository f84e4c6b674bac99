package cli

import (
	"fmt"

	"acexpander/config"
	"acexpander/unace"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X acexpander/cli.Version=...".
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the acexpander and unace versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "acexpander %s\n", Version)
		v, err := unace.ProbeVersion(cmd.Context(), cfg.UnaceBin, cfg.VersionTimeout)
		if err != nil {
			return fmt.Errorf("%s: %w", cfg.UnaceBin, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "unace: %s\n", v)
		return nil
	},
}
