package helper

import (
	"vapor-chat/pkg/config"
	"vapor-chat/service-sync/internal/app"
)

func NewSyncServer(
	cfg *config.Config,
) *app.AppServer {
	return app.NewAppServer(cfg)
}
