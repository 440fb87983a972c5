package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tendant/shardmedia/pkg/shardmedia"
	"github.com/tendant/shardmedia/pkg/shardmedia/config"
	"github.com/tendant/shardmedia/pkg/shardmedia/media"
	"github.com/tendant/shardmedia/pkg/shardmedia/pipeline"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	wrapper, err := cfg.BuildWrapper()
	if err != nil {
		slog.Error("Failed to build key wrapper", "err", err)
		os.Exit(1)
	}
	repo, closeRepo, err := cfg.BuildRepository(ctx)
	if err != nil {
		slog.Error("Failed to open metadata store", "err", err)
		os.Exit(1)
	}
	defer closeRepo()

	transfer, err := cfg.BuildTransfer(logger)
	if err != nil {
		slog.Error("Failed to build transfer backend", "err", err)
		os.Exit(1)
	}

	p, err := cfg.BuildPipeline(repo, wrapper, transfer,
		pipeline.WithSanitizer(media.PassthroughSanitizer{}),
		pipeline.WithLogger(logger),
		pipeline.WithEventSink(shardmedia.NewLoggingEventSink(logger)),
	)
	if err != nil {
		slog.Error("Failed to build pipeline", "err", err)
		os.Exit(1)
	}

	report, err := p.Run(ctx)
	if err != nil {
		slog.Error("Upload run failed", "err", err)
		closeRepo()
		os.Exit(1)
	}
	slog.Info("Upload finished", "placed", report.Placed, "accounts", report.Transferred, "published", report.Published)
}
