package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"vapor-chat/pkg/config"
	"vapor-chat/pkg/database"
	"vapor-chat/pkg/logger"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
)

const (
	defaultDBPort = 15432
	migrateWait   = 30 * time.Second
)

// findAvailablePort finds an available port starting from the given port
func findAvailablePort(startPort uint32) (uint32, error) {
	for port := startPort; port < startPort+100; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			ln.Close()
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available port in %d-%d", startPort, startPort+99)
}

// startEmbeddedDB starts PostgreSQL under ~/.vapor-chat, points cfg at it and
// installs the schema. The returned func stops the server.
func startEmbeddedDB(ctx context.Context, cfg *config.Config) (func(), error) {
	logger.Info("starting embedded PostgreSQL...")

	port, err := findAvailablePort(defaultDBPort)
	if err != nil {
		return nil, err
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	baseDir := filepath.Join(homeDir, ".vapor-chat")
	dataDir := filepath.Join(baseDir, "data")
	runtimeDir := filepath.Join(baseDir, "runtime")
	binariesDir := filepath.Join(baseDir, "binaries")

	// chat history is ephemeral, every run starts from an empty cluster
	if err := os.RemoveAll(dataDir); err != nil {
		logger.Warnf("failed to clean up existing data directory: %v", err)
	}
	for _, dir := range []string{dataDir, runtimeDir, binariesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	pg := embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
		Username(cfg.Database.Username).
		Password(cfg.Database.Password).
		Database(cfg.Database.Name).
		Port(port).
		RuntimePath(runtimeDir).
		DataPath(dataDir).
		BinariesPath(binariesDir).
		Logger(logWriter{}))

	if err := pg.Start(); err != nil {
		return nil, fmt.Errorf("failed to start embedded PostgreSQL: %w", err)
	}
	stop := func() {
		logger.Info("shutting down embedded PostgreSQL...")
		if err := pg.Stop(); err != nil {
			logger.Error(err, "failed to stop embedded PostgreSQL")
		}
	}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = fmt.Sprintf("%d", port)

	if err := installSchema(ctx, cfg); err != nil {
		stop()
		return nil, err
	}

	logger.Infof("embedded PostgreSQL started on port %d", port)
	return stop, nil
}

func installSchema(ctx context.Context, cfg *config.Config) error {
	db, err := database.NewPgDB(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to embedded PostgreSQL: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, migrateWait)
	defer cancel()

	if err := database.Migrate(ctx, db); err != nil {
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return nil
}

// logWriter forwards embedded-postgres server output to debug logs
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	logger.Debugf("postgres: %s", p)
	return len(p), nil
}
