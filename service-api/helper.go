package helper

import (
	"vapor-chat/pkg/config"
	"vapor-chat/service-api/internal/app"
)

func NewAppServer(
	cfg *config.Config,
) *app.AppServer {
	return app.NewAppServer(cfg)
}
