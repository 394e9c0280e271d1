package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"vapor-chat/pkg/auth"
	"vapor-chat/pkg/config"
	"vapor-chat/pkg/database"
	"vapor-chat/pkg/logger"
	ctl "vapor-chat/service-api/internal/controller"
	roomRepo "vapor-chat/service-api/internal/repository/room"
	roomService "vapor-chat/service-api/internal/service/room"
)

const (
	migrateTimeout  = 30 * time.Second
	shutdownTimeout = 15 * time.Second
)

type AppServer struct {
	config         *config.Config
	db             *sql.DB
	roomController *ctl.RoomController
	roomService    *roomService.Service
}

// NewAppServer creates a new instance of AppServer with the provided configuration.
func NewAppServer(cfg *config.Config) *AppServer {
	// initialize database
	db, err := database.NewPgDB(cfg)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}

	// the api owns the schema, including the triggers service-sync listens to
	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()
	err = database.Migrate(ctx, db)
	if err != nil {
		logger.Fatalf("failed to migrate database: %v", err)
	}

	return newAppServer(cfg, db, roomRepo.NewRepository(db))
}

func newAppServer(cfg *config.Config, db *sql.DB, rooms roomRepo.Repository) *AppServer {
	// initialize services
	tokens := auth.NewRoomTokenManager(cfg.JWTSecret, cfg.TokenTTL, nil)
	roomSvc := roomService.NewService(rooms, tokens)

	return &AppServer{
		config:         cfg,
		db:             db,
		roomController: ctl.NewRoomController(roomSvc),
		roomService:    roomSvc,
	}
}

// Serve starts the api server and blocks until SIGINT, SIGTERM or SIGHUP
func (a *AppServer) Serve() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()
	a.Run(ctx)
}

// Run starts the api server and shuts it down once ctx is done
func (a *AppServer) Run(ctx context.Context) {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", a.config.Port),
		Handler: a.RegisterHandlers(),
	}

	// serve the server
	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed to start: %v", err)
		}
	}()

	logger.Infof("server started on port %s", a.config.Port)

	<-ctx.Done()
	a.gracefulShutdown(server)

	logger.Info("server shutdown complete")
}

func (a *AppServer) gracefulShutdown(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := server.Shutdown(ctx)
	if err != nil {
		logger.Error(err, "server shutdown error")
	} else {
		logger.Info("server graceful shutdown")
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Error(err, "failed to close database")
		}
	}
}
