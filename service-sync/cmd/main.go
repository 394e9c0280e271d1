package main

import (
	"context"

	"vapor-chat/pkg/config"
	"vapor-chat/pkg/logger"
	sync "vapor-chat/service-sync"
)

func main() {
	// initialize configuration
	cfg := config.Load(context.Background())

	// initialize logger
	logger.InitLogger(cfg)

	// create and start the sync service
	server := sync.NewSyncServer(cfg)
	server.Serve()
}
