package main

import (
	"vapor-chat/pkg/config"
	"vapor-chat/pkg/logger"

	"github.com/alicebob/miniredis/v2"
)

// startEmbeddedRedis starts an in-process Redis and points cfg at it. The
// returned func stops it.
func startEmbeddedRedis(cfg *config.Config) (func(), error) {
	logger.Info("starting embedded Redis...")

	mr, err := miniredis.Run()
	if err != nil {
		return nil, err
	}

	cfg.Redis.Host = mr.Host()
	cfg.Redis.Port = mr.Port()
	cfg.Redis.Password = ""
	cfg.Redis.DB = 0

	logger.Infof("embedded Redis started on %s", mr.Addr())
	return func() {
		logger.Info("shutting down embedded Redis...")
		mr.Close()
	}, nil
}
