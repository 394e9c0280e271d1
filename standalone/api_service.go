package main

import (
	"context"

	"vapor-chat/pkg/config"
	api "vapor-chat/service-api"
)

func startAPIService(ctx context.Context, cfg *config.Config) {
	app := api.NewAppServer(cfg)
	app.Run(ctx)
}
