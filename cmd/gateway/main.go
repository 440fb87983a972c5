package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/chi-demo/middleware"

	"github.com/tendant/shardmedia/pkg/shardmedia"
	"github.com/tendant/shardmedia/pkg/shardmedia/api"
	"github.com/tendant/shardmedia/pkg/shardmedia/config"
	"github.com/tendant/shardmedia/pkg/shardmedia/gateway"
	"github.com/tendant/shardmedia/pkg/shardmedia/metrics"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
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

	m := metrics.New(prometheus.DefaultRegisterer)
	g, err := cfg.BuildGateway(repo, wrapper, transfer,
		gateway.WithLogger(logger),
		gateway.WithMetrics(m),
		gateway.WithEventSink(shardmedia.NewLoggingEventSink(logger)),
	)
	if err != nil {
		slog.Error("Failed to build gateway", "err", err)
		os.Exit(1)
	}

	server := app.DefaultApp()

	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)
	server.R.Handle("/metrics", promhttp.Handler())

	streamHandler := api.NewStreamHandler(g, repo, logger)

	if cfg.APIKeySHA256 == "" {
		slog.Warn("API_KEY_SHA256 not set, gateway is unauthenticated")
		streamHandler.RegisterRoutes(server.R)
	} else {
		apiKeyMiddleware, err := middleware.ApiKeyMiddleware(middleware.ApiKeyConfig{
			APIKeys: map[string]string{
				"key1": cfg.APIKeySHA256,
			},
		})
		if err != nil {
			slog.Error("Failed initialize API Key middleware", "err", err)
			return
		}
		server.R.Group(func(r chi.Router) {
			r.Use(apiKeyMiddleware)
			streamHandler.RegisterRoutes(r)
		})
	}

	// Start server
	server.Run()
}
