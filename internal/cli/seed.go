package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lindqvist/mapfold/internal/config"
	"github.com/lindqvist/mapfold/internal/db"
	"github.com/lindqvist/mapfold/internal/ingest"
	"github.com/lindqvist/mapfold/internal/llm"
)

var (
	seedScope string
	seedUser  string
)

// seedCmd loads markdown files directly into the database, bypassing the
// server. Used to populate scopes for querying.
var seedCmd = &cobra.Command{
	Use:   "seed <directory>",
	Short: "Load markdown files into a scope",
	Long: `Load every .md file under a directory into the knowledge base as items
with embedded chunks. Connects directly to the database and embedding
backend, not through the server.

Examples:
  mapfold seed ./receipts --scope receipts
  mapfold seed ~/notes --scope notes --seed-user alice`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedScope, "scope", "default", "scope ID to load items into")
	seedCmd.Flags().StringVar(&seedUser, "seed-user", "default", "user ID to own the items")
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbClient, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, nil, nil)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer dbClient.Close(context.Background())

	if err := dbClient.InitSchema(ctx, cfg.EmbedDimension); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}

	embedder, err := llm.NewEmbedder(cfg, nil)
	if err != nil {
		return fmt.Errorf("init embedder: %w", err)
	}

	seeder := ingest.NewSeeder(dbClient, embedder)
	result, err := seeder.SeedDirectory(ctx, args[0], seedUser, seedScope)
	if err != nil {
		return err
	}

	fmt.Printf("Files processed: %d\n", result.FilesProcessed)
	fmt.Printf("Items created:   %d\n", result.ItemsCreated)
	fmt.Printf("Chunks created:  %d\n", result.ChunksCreated)
	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  • %s\n", e)
		}
	}
	return nil
}
