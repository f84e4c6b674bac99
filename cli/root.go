package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "acexpander",
	Short: "Batch expand, list and test ACE archives with unace",
	Long: `acexpander drives the unace command line tool over a queue of archives.
Archives are processed one at a time, either once from the command line or
through an HTTP API that keeps the queue around.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the command named on the command line.
func Execute() error {
	return rootCmd.Execute()
}
