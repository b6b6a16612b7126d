// Package main provides the mapfold query engine server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lindqvist/mapfold/internal/config"
	"github.com/lindqvist/mapfold/internal/db"
	"github.com/lindqvist/mapfold/internal/intent"
	"github.com/lindqvist/mapfold/internal/llm"
	"github.com/lindqvist/mapfold/internal/metrics"
	"github.com/lindqvist/mapfold/internal/server"
	"github.com/lindqvist/mapfold/internal/service"
)

const version = "0.1.0"

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Dual output: stderr text + file JSON
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()

	logger.Info("mapfold-server starting",
		"version", version,
		"port", cfg.ServerPort,
		"surrealdb_url", cfg.SurrealDBURL,
		"llm_model", cfg.LLMModel,
		"embed_model", cfg.EmbedModel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	collector := metrics.NewCollector()

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	dbClient, err := db.NewClient(connCtx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger, collector)
	connCancel()
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("closing database connection")
		_ = dbClient.Close(context.Background())
	}()

	if err := dbClient.InitSchema(ctx, cfg.EmbedDimension); err != nil {
		logger.Error("failed to initialize database schema", "error", err)
		os.Exit(1)
	}

	if *wipeDB || os.Getenv("MAPFOLD_WIPE_DB") == "true" {
		if err := dbClient.WipeData(ctx); err != nil {
			logger.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
	}

	model, err := llm.NewModel(cfg, collector)
	if err != nil {
		logger.Error("failed to create model", "error", err)
		os.Exit(1)
	}
	embedder, err := llm.NewEmbedder(cfg, collector)
	if err != nil {
		logger.Error("failed to create embedder", "error", err)
		os.Exit(1)
	}
	logger.Info("llm backends initialized", "model", cfg.LLMModel, "embedder", embedder.Model())

	jobs := service.NewJobManager(cfg.Engine.DedupWindow)
	orch := service.NewOrchestrator(dbClient, dbClient, dbClient, model, embedder, jobs, cfg.Engine, collector)
	classifier := intent.NewClassifier(model, cfg.Engine.AsyncThreshold)
	quick := service.NewQuickAnswerer(dbClient, model, embedder)
	query := service.NewQueryService(dbClient, dbClient, classifier, quick, orch)

	srv := server.New(server.Config{
		Addr:          ":" + cfg.ServerPort,
		Query:         query,
		Jobs:          orch,
		Conversations: dbClient,
		Collector:     collector,
		Logger:        logger,
	})

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
