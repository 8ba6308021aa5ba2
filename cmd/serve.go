package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/koopa0/ragcache/api"
	"github.com/koopa0/ragcache/internal/app"
	"github.com/koopa0/ragcache/internal/config"
	"github.com/koopa0/ragcache/internal/log"
)

// runServe initializes and starts the HTTP API server.
func runServe(logger log.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr, err := parseServeAddr(cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("parsing address: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting ragcache server",
		"version", Version,
		"index_backend", cfg.IndexBackend,
		"similarity_metric", cfg.SimilarityMetric)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	var pinger api.Pinger
	if a.DBPool != nil {
		pinger = a.DBPool
	}

	srv := api.NewServer(a.Orchestrator, a.Ingestor, a, pinger, logger)

	logger.Info("HTTP server ready",
		"addr", addr,
		"api", "/api/*",
		"health", "/health, /ready",
	)
	return srv.Run(ctx, addr)
}
