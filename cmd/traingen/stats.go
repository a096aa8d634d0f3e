package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dexterai/traingen/internal/config"
	"github.com/dexterai/traingen/internal/storage"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show stored example counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats()
	},
}

func runStats() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	initLogging(cfg)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	stats, err := store.GetStats()
	if err != nil {
		return fmt.Errorf("reading stats: %w", err)
	}

	printStatus("Total", "%d", stats.Total)
	printStatus("Valid", "%d", stats.Valid)
	printStatus("Invalid", "%d", stats.Invalid)
	if stats.Total > 0 {
		printStatus("Valid rate", "%.1f%%", float64(stats.Valid)*100/float64(stats.Total))
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
