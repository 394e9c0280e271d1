package main

import (
	"context"

	"vapor-chat/pkg/config"
	sync "vapor-chat/service-sync"
)

func startSyncService(ctx context.Context, cfg *config.Config) {
	app := sync.NewSyncServer(cfg)
	app.Run(ctx)
}
