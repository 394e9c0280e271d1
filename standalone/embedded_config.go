package main

import (
	"os"
	"path/filepath"
	"time"

	"vapor-chat/pkg/config"
	"vapor-chat/pkg/storage"
)

// createEmbeddedConfig creates a hardcoded configuration for the standalone application
func createEmbeddedConfig() *config.Config {
	snapshotDir := "./snapshots"
	if homeDir, err := os.UserHomeDir(); err == nil {
		snapshotDir = filepath.Join(homeDir, ".vapor-chat", "snapshots")
	}

	return &config.Config{
		Port:      "8080",
		SyncPort:  "8081",
		JWTSecret: "embedded-jwt-secret-key-change-in-production",
		TokenTTL:  24 * time.Hour,
		Database: config.DatabaseConfig{
			Name:                 "vaporchat",
			Host:                 "localhost",
			Port:                 "15432",
			Username:             "postgres",
			Password:             "postgres",
			MaxOpenConns:         25,
			MaxIdleConns:         25,
			ConnMaxLifetime:      5 * time.Minute,
			SSLMode:              "disable",
			ListenerMinReconnect: time.Second,
			ListenerMaxReconnect: 10 * time.Second,
		},
		Log: config.LogConfig{
			Level:  "info",
			Format: "console",
		},
		Redis: config.RedisConfig{
			Host: "localhost",
			Port: "6379",
		},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Realtime: config.RealtimeConfig{
			ConnectTimeout:    10 * time.Second,
			ClearConfirmDelay: 3 * time.Second,
			PublishTimeout:    2 * time.Second,
			EventBuffer:       256,
		},
		Leaderboard: config.LeaderboardConfig{
			Interval: 10 * time.Second,
			Window:   time.Minute,
			Limit:    10,
		},
		Storage: config.StorageConfig{
			Provider:    storage.StorageProviderLocal,
			LocalPath:   snapshotDir,
			SnapshotKey: "leaderboard/latest.json",
		},
	}
}
