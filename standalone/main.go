package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"vapor-chat/pkg/logger"
)

func main() {
	// Create centralized configuration
	cfg := createEmbeddedConfig()

	logger.InitLogger(cfg)

	logger.Info("starting VaporChat standalone application")
	logger.Info("this includes: PostgreSQL, Redis, API service and sync service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// embedded services come first; they rewrite cfg with their addresses
	stopDB, err := startEmbeddedDB(ctx, cfg)
	if err != nil {
		logger.Fatalf("failed to start embedded PostgreSQL: %v", err)
	}
	defer stopDB()

	stopRedis, err := startEmbeddedRedis(cfg)
	if err != nil {
		logger.Fatalf("failed to start embedded Redis: %v", err)
	}
	defer stopRedis()

	logger.Info("starting application services...")

	var wg sync.WaitGroup

	// Start API service with config
	wg.Add(1)
	go func() {
		defer wg.Done()
		startAPIService(ctx, cfg)
	}()

	// Start Sync service with config
	wg.Add(1)
	go func() {
		defer wg.Done()
		startSyncService(ctx, cfg)
	}()

	logger.Infof("lobby api on http://localhost:%s, realtime gateway on ws://localhost:%s", cfg.Port, cfg.SyncPort)

	<-ctx.Done()
	logger.Info("shutting down...")
	wg.Wait()
	logger.Info("shutdown complete")
}
