package app

import (
	"net/http"
	"slices"
	"time"

	"vapor-chat/pkg/logger"
	"vapor-chat/service-api/internal/app/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func (a *AppServer) RegisterHandlers() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	handler := gin.New()

	// middlewares
	logger.Debugf("allowing CORS origins: %v", a.config.CORS.AllowedOrigins)

	// cors middleware
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(a.config.CORS.AllowedOrigins) == 0 || slices.Contains(a.config.CORS.AllowedOrigins, "*") {
		corsConfig.AllowOriginFunc = func(string) bool { return true }
	} else {
		corsConfig.AllowOrigins = a.config.CORS.AllowedOrigins
	}
	handler.Use(cors.New(corsConfig))
	handler.Use(gin.Logger())
	handler.Use(gin.Recovery())

	// health check
	handler.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "api"})
	})

	// api routes
	api := handler.Group("/api/v1")

	// public lobby routes, the room password is the credential
	{
		api.POST("/rooms", a.roomController.CreateRoom)
		api.POST("/rooms/join", a.roomController.JoinRoom)
	}

	// room token protected routes
	roomRoutes := api.Group("/rooms")
	roomRoutes.Use(middleware.RoomTokenAuth(a.roomService))
	{
		roomRoutes.GET("/:id", a.roomController.GetRoom)
	}

	return handler
}
