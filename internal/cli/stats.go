package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lindqvist/mapfold/internal/metrics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server runtime statistics",
	Long:  `Show in-memory runtime statistics from the server (resets on restart).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := apiClient.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("fetch stats: %w", err)
		}

		fmt.Printf("Uptime: %.0fs\n\n", snap.UptimeSeconds)
		printOpStats("Embeddings", snap.Embedding)
		printOpStats("LLM calls", snap.LLMGenerate)
		printOpStats("DB queries", snap.DBQuery)
		printOpStats("Map batches", snap.MapBatch)
		return nil
	},
}

func printOpStats(name string, op *metrics.OperationSnapshot) {
	if op == nil {
		return
	}
	fmt.Printf("%s:\n", name)
	fmt.Printf("  Count: %d\n", op.Count)
	fmt.Printf("  Avg: %.1fms  Min: %dms  Max: %dms\n", op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
	if op.TotalInputTokens != nil {
		fmt.Printf("  Tokens in/out: %d/%d\n", *op.TotalInputTokens, *op.TotalOutputTokens)
	}
	fmt.Println()
}
