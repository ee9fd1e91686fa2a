// Package cli wires the memctx commands.
package cli

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "memctx",
	Short: "Hybrid memory retrieval for AI agents",
	Long: "memctx stores per-agent memory facts and decides which ones to inject\n" +
		"into a bounded prompt context, balancing semantic relevance, recency,\n" +
		"and an always-include core tier.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(retrieveCmd)
}
