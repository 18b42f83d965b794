// Package main is the entry point for the hedged analysis server. It wires
// the market-data provider, the LLM gateway, the flow repositories and the
// local-model manager into the HTTP API and runs until interrupted.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hedgeworks/hedged/internal/config"
	"github.com/hedgeworks/hedged/internal/database"
	"github.com/hedgeworks/hedged/internal/flows"
	"github.com/hedgeworks/hedged/internal/llm"
	"github.com/hedgeworks/hedged/internal/marketdata"
	"github.com/hedgeworks/hedged/internal/metrics"
	"github.com/hedgeworks/hedged/internal/ollama"
	"github.com/hedgeworks/hedged/internal/scheduler"
	"github.com/hedgeworks/hedged/internal/server"
	"github.com/hedgeworks/hedged/internal/storage"
	"github.com/hedgeworks/hedged/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting hedged server")

	// Flows database
	db, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "flows.db"),
		Name: "flows",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open flows database")
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate flows database")
	}

	flowRepo := flows.NewFlowRepository(db, log)
	runRepo := flows.NewRunRepository(db, log)

	// Market data, warmed from the last cache snapshot when one exists.
	cache := marketdata.NewCache()
	snapshotPath := filepath.Join(cfg.DataDir, "marketdata.msgpack")
	if err := cache.LoadSnapshot(snapshotPath); err != nil {
		log.Warn().Err(err).Msg("Starting with a cold market-data cache")
	}
	client := marketdata.NewClient(cfg.FinancialDatasetsBaseURL, cfg.FinancialDatasetsAPIKey, log)
	provider := marketdata.NewCachedProvider(client, cache, log)

	// LLM gateway
	gateway := llm.NewGateway(llm.Keys{
		OpenAI:    cfg.OpenAIAPIKey,
		Anthropic: cfg.AnthropicAPIKey,
		Groq:      cfg.GroqAPIKey,
		DeepSeek:  cfg.DeepSeekAPIKey,
	}, cfg.OllamaBaseURL, log)

	// Local model manager
	manager := ollama.NewManager(cfg.OllamaBaseURL, log)

	// Artifact storage, optionally mirrored to S3
	writer, err := storage.NewWriter(cfg.OutputsDir(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	if cfg.S3ArchiveBucket != "" {
		archiver, err := storage.NewS3Archiver(context.Background(), cfg.S3ArchiveBucket, cfg.S3Region, log)
		if err != nil {
			log.Warn().Err(err).Msg("S3 archiving disabled")
		} else {
			writer.SetArchiver(archiver)
			log.Info().Str("bucket", cfg.S3ArchiveBucket).Msg("S3 archiving enabled")
		}
	}

	// Background maintenance
	sched := scheduler.New(log)
	if err := sched.AddJob("@every 15m", scheduler.NewCacheSnapshotJob(cache, snapshotPath, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register cache snapshot job")
	}
	if err := sched.AddJob("@hourly", scheduler.NewWALCheckpointJob(db, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register WAL checkpoint job")
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:                 log,
		Config:              cfg,
		Port:                cfg.Port,
		DevMode:             cfg.DevMode,
		Provider:            provider,
		Gateway:             gateway,
		Ollama:              manager,
		FlowRepo:            flowRepo,
		RunRepo:             runRepo,
		Storage:             writer,
		Metrics:             metrics.New(),
		RecommendedManifest: filepath.Join(cfg.DataDir, "recommended_models.toml"),
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	sched.Stop()

	// A final snapshot so the next start is warm.
	if err := cache.SaveSnapshot(snapshotPath); err != nil {
		log.Warn().Err(err).Msg("Failed to save final cache snapshot")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
