// Package commands implements blockpackd's CLI, laid out the way
// dittofs's cmd/dfs/commands is: a package-level rootCmd, one file per
// subcommand, and a global --config flag read by every subcommand.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "none"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "blockpackd",
	Short: "blockpackd - deduplicating block volume packer",
	Long: `blockpackd runs the Data Block Processor: it consumes a stream of
content-addressed blocks, deduplicates them against a persistent index,
and packs the survivors into compressed volumes for upload.

Use "blockpackd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./blockpack.yaml)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveMetricsCmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
