package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var configPath string

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	rootCmd := &cobra.Command{
		Use:     "anchorctl",
		Short:   "Anchor AI core - model orchestration and continuous learning",
		Long:    `anchorctl runs and inspects the Anchor AI core: the model orchestrator, the continuous learning pipeline, and the pattern recognition engine.`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newDiscoverCommand())
	rootCmd.AddCommand(newStatsCommand())
	rootCmd.AddCommand(newPatternsCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("ANCHOR_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}
