package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"vapor-chat/pkg/auth"
	"vapor-chat/pkg/config"
	"vapor-chat/pkg/database"
	"vapor-chat/pkg/logger"
	"vapor-chat/pkg/metrics"
	"vapor-chat/pkg/realtime"
	"vapor-chat/pkg/redis"
	"vapor-chat/pkg/storage"
	"vapor-chat/service-sync/internal/handler"
	"vapor-chat/service-sync/internal/repository"
	"vapor-chat/service-sync/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 15 * time.Second

type AppServer struct {
	config      *config.Config
	handler     *handler.SyncHandler
	registry    *prometheus.Registry
	db          *sql.DB
	listener    *database.ChangeListener
	redisClient *redis.Client
	client      *realtime.Client
	leaderboard service.LeaderboardService
	snapshots   storage.Provider
}

// NewAppServer creates a new sync server instance
func NewAppServer(cfg *config.Config) *AppServer {
	// initialize database
	db, err := database.NewPgDB(cfg)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}

	// dedicated LISTEN connection for row changes
	listener, err := database.NewChangeListener(cfg, cfg.Realtime.EventBuffer)
	if err != nil {
		logger.Fatalf("failed to initialize change listener: %v", err)
	}

	// initialize Redis client for broadcast signals and clear locks
	redisClient, err := redis.NewClient(cfg)
	if err != nil {
		logger.Fatalf("failed to initialize Redis client: %v", err)
	}

	snapshots, err := storage.NewStorageProvider(context.Background(), &cfg.Storage)
	if err != nil {
		logger.Fatalf("failed to initialize snapshot storage: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// initialize repositories
	chatRepo := repository.NewChatRepository(db)
	broadcastRepo := repository.NewBroadcastRepository(redisClient, cfg.Realtime.EventBuffer)

	client := realtime.NewClient(chatRepo, listener, broadcastRepo, clientOptions(cfg, broadcastRepo, m)...)
	aggregator := client.NewAggregator(chatRepo, aggregatorOptions(cfg)...)

	// initialize services
	syncService := service.NewSyncService(client, chatRepo)
	leaderboardService := service.NewLeaderboardService(aggregator, snapshots, cfg.Storage.SnapshotKey)

	tokens := auth.NewRoomTokenManager(cfg.JWTSecret, cfg.TokenTTL, nil)

	// initialize handler
	syncHandler := handler.NewSyncHandler(syncService, leaderboardService, tokens)

	return &AppServer{
		config:      cfg,
		handler:     syncHandler,
		registry:    registry,
		db:          db,
		listener:    listener,
		redisClient: redisClient,
		client:      client,
		leaderboard: leaderboardService,
		snapshots:   snapshots,
	}
}

func clientOptions(cfg *config.Config, locker realtime.ClearLocker, m *metrics.Metrics) []realtime.ClientOption {
	opts := []realtime.ClientOption{
		realtime.WithClearLocker(locker),
		realtime.WithMetrics(m),
	}
	if cfg.Realtime.ConnectTimeout > 0 {
		opts = append(opts, realtime.WithConnectTimeout(cfg.Realtime.ConnectTimeout))
	}
	if cfg.Realtime.ClearConfirmDelay > 0 {
		opts = append(opts, realtime.WithClearConfirmDelay(cfg.Realtime.ClearConfirmDelay))
	}
	if cfg.Realtime.PublishTimeout > 0 {
		opts = append(opts, realtime.WithPublishTimeout(cfg.Realtime.PublishTimeout))
	}
	if cfg.Realtime.EventBuffer > 0 {
		opts = append(opts, realtime.WithEventBuffer(cfg.Realtime.EventBuffer))
	}
	return opts
}

func aggregatorOptions(cfg *config.Config) []realtime.AggregatorOption {
	var opts []realtime.AggregatorOption
	if cfg.Leaderboard.Interval > 0 {
		opts = append(opts, realtime.WithLeaderboardInterval(cfg.Leaderboard.Interval))
	}
	if cfg.Leaderboard.Window > 0 {
		opts = append(opts, realtime.WithLeaderboardWindow(cfg.Leaderboard.Window))
	}
	if cfg.Leaderboard.Limit > 0 {
		opts = append(opts, realtime.WithLeaderboardLimit(cfg.Leaderboard.Limit))
	}
	return opts
}

// Serve starts the sync server and blocks until SIGINT, SIGTERM or SIGHUP
func (s *AppServer) Serve() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()
	s.Run(ctx)
}

// Run starts the sync server and shuts it down once ctx is done
func (s *AppServer) Run(ctx context.Context) {
	if err := s.leaderboard.Start(ctx); err != nil {
		logger.Fatalf("failed to start leaderboard: %v", err)
	}

	// setup gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	// cors middleware
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}
	if len(s.config.CORS.AllowedOrigins) == 0 || slices.Contains(s.config.CORS.AllowedOrigins, "*") {
		corsConfig.AllowOriginFunc = func(string) bool { return true }
	} else {
		corsConfig.AllowOrigins = s.config.CORS.AllowedOrigins
	}
	router.Use(cors.New(corsConfig))

	// setup routes
	s.setupRoutes(router)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", s.getSyncPort()),
		Handler: router,
	}

	sslEnabled := os.Getenv("SSL_ENABLED") == "true"
	certPath := os.Getenv("SSL_CERT_PATH")
	keyPath := os.Getenv("SSL_KEY_PATH")

	// start server
	go func() {
		var err error
		if sslEnabled && certPath != "" && keyPath != "" {
			logger.Infof("Starting SSL server on port %s", s.getSyncPort())
			err = server.ListenAndServeTLS(certPath, keyPath)
		} else {
			logger.Infof("Starting HTTP server on port %s", s.getSyncPort())
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			logger.Fatalf("sync server failed to start: %v", err)
		}
	}()

	logger.Infof("sync server started on port %s (SSL: %v)", s.getSyncPort(), sslEnabled)

	<-ctx.Done()
	s.gracefulShutdown(server)

	logger.Info("sync server shutdown complete")
}

// setupRoutes configures the server routes
func (s *AppServer) setupRoutes(router *gin.Engine) {
	// websocket endpoints
	router.GET("/ws/room/:roomID", s.handler.HandleWebSocket)
	router.GET("/ws/leaderboard", s.handler.HandleLeaderboardWebSocket)

	api := router.Group("/api/v1")
	{
		api.GET("/leaderboard", s.handler.GetLeaderboard)
		api.GET("/rooms/:roomID/state", s.handler.GetRoomState)
	}

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	// health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "sync"})
	})
}

// getSyncPort returns the port for the sync service
func (s *AppServer) getSyncPort() string {
	if s.config.SyncPort != "" {
		return s.config.SyncPort
	}
	return "8081"
}

// gracefulShutdown stops accepting connections, then tears down room views
// before the connections they depend on
func (s *AppServer) gracefulShutdown(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// hijacked websocket connections are not tracked by Shutdown; closing the
	// client ends their sessions
	s.client.Close()

	err := server.Shutdown(ctx)
	if err != nil {
		logger.Error(err, "sync server shutdown error")
	} else {
		logger.Info("sync server graceful shutdown")
	}

	if err := s.leaderboard.Close(); err != nil {
		logger.Error(err, "failed to stop leaderboard")
	}
	if s.snapshots != nil {
		if err := s.snapshots.Close(); err != nil {
			logger.Error(err, "failed to close snapshot storage")
		}
	}
	if err := s.listener.Close(); err != nil {
		logger.Error(err, "failed to close change listener")
	}
	if err := s.redisClient.Close(); err != nil {
		logger.Error(err, "failed to close Redis client")
	}
	if err := s.db.Close(); err != nil {
		logger.Error(err, "failed to close database")
	}
}
