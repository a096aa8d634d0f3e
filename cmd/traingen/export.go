package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dexterai/traingen/internal/config"
	"github.com/dexterai/traingen/internal/export"
	"github.com/dexterai/traingen/internal/storage"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export valid examples as LLaMA chat-template JSONL splits",
	RunE: func(cmd *cobra.Command, args []string) error {
		train, _ := cmd.Flags().GetFloat64("train-split")
		val, _ := cmd.Flags().GetFloat64("val-split")
		test, _ := cmd.Flags().GetFloat64("test-split")
		output, _ := cmd.Flags().GetString("output")
		return runExport(export.Splits{Train: train, Val: val, Test: test}, output)
	},
}

func init() {
	exportCmd.Flags().Float64("train-split", export.DefaultSplits.Train, "fraction of examples for train.jsonl")
	exportCmd.Flags().Float64("val-split", export.DefaultSplits.Val, "fraction of examples for val.jsonl")
	exportCmd.Flags().Float64("test-split", export.DefaultSplits.Test, "fraction of examples for test.jsonl")
	exportCmd.Flags().String("output", "", "output directory (default: configured output dir)")
}

func runExport(splits export.Splits, output string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	initLogging(cfg)

	if output == "" {
		output = cfg.Export.OutputDir
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	sum, err := export.New(store, output).Export(splits)
	if err != nil {
		return err
	}

	printStatus("Train", "%d", sum.Train)
	printStatus("Val", "%d", sum.Val)
	printStatus("Test", "%d", sum.Test)
	printSuccess("Exported %d examples to %s", sum.Total, output)
	return nil
}
