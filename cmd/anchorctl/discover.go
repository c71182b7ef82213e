package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anchorhome/anchor/internal/config"
	"github.com/anchorhome/anchor/internal/database"
	"github.com/anchorhome/anchor/internal/metrics"
	"github.com/anchorhome/anchor/internal/patterns"
)

func newDiscoverCommand() *cobra.Command {
	var minConfidence float64

	cmd := &cobra.Command{
		Use:   "discover [category...]",
		Short: "Run batch pattern discovery for case categories",
		Long:  `Runs clustering and cross-validation over labeled historical cases and prints the validated patterns as JSON. Requires a configured database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return fmt.Errorf("discovery requires a configured database DSN")
			}

			db, err := database.New(cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer db.Close()

			categories := args
			if len(categories) == 0 {
				categories = cfg.Discovery.Categories
			}
			if len(categories) == 0 {
				return fmt.Errorf("no categories given and none configured")
			}
			if minConfidence == 0 {
				minConfidence = cfg.Discovery.MinConfidence
			}

			engine := patterns.NewEngine(db, db, nil, nil, metrics.New())
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")

			for _, category := range categories {
				found, err := engine.IdentifySuccessPatterns(cmd.Context(), category, minConfidence)
				if err != nil {
					return fmt.Errorf("discovery failed for %s: %w", category, err)
				}
				fmt.Fprintf(os.Stderr, "category %s: %d validated patterns\n", category, len(found))
				for _, p := range found {
					if err := enc.Encode(p); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "Minimum pattern confidence (defaults to config value)")
	return cmd
}
