package main

import (
	"context"

	"vapor-chat/pkg/config"
	"vapor-chat/pkg/logger"
	api "vapor-chat/service-api"
)

func main() {
	// Initialize configuration
	cfg := config.Load(context.Background())

	// Initialize logger
	logger.InitLogger(cfg)

	// Create and start the application server
	server := api.NewAppServer(cfg)
	server.Serve()
}
