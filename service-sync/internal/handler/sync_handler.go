package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"vapor-chat/pkg/auth"
	"vapor-chat/pkg/logger"
	"vapor-chat/pkg/model"
	"vapor-chat/service-sync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SyncHandler handles HTTP requests for sync service
type SyncHandler struct {
	service     service.SyncService
	leaderboard service.LeaderboardService
	tokens      *auth.RoomTokenManager
	upgrader    websocket.Upgrader
}

// NewSyncHandler creates a new sync handler instance
func NewSyncHandler(syncService service.SyncService, leaderboard service.LeaderboardService, tokens *auth.RoomTokenManager) *SyncHandler {
	return &SyncHandler{
		service:     syncService,
		leaderboard: leaderboard,
		tokens:      tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// origins are enforced by the cors middleware for the rest api;
				// room sockets are gated by the room token instead
				return true
			},
		},
	}
}

// HandleWebSocket handles a room websocket. The room token from service-api
// names the participant.
func (h *SyncHandler) HandleWebSocket(c *gin.Context) {
	roomID, ok := parseRoomID(c)
	if !ok {
		return
	}

	claims, err := h.tokens.Authorize(roomToken(c), roomID)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrWrongRoom) {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	// the view outlives the upgrade, so it gets its own context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	view, err := h.service.OpenRoom(ctx, roomID, claims.DisplayName)
	if err != nil {
		if errors.Is(err, model.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		logger.Error(err, "failed to open room view")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open room"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		view.Close()
		logger.Error(err, "failed to upgrade connection to WebSocket")
		return
	}

	err = h.service.HandleConnection(ctx, view, conn)
	if err != nil {
		logger.Error(err, "room websocket ended with error")
	}
}

// HandleLeaderboardWebSocket streams leaderboard updates
func (h *SyncHandler) HandleLeaderboardWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error(err, "failed to upgrade connection to WebSocket")
		return
	}

	err = h.leaderboard.Stream(context.Background(), conn)
	if err != nil {
		logger.Error(err, "leaderboard websocket ended with error")
	}
}

// GetLeaderboard returns the latest ranking
func (h *SyncHandler) GetLeaderboard(c *gin.Context) {
	c.JSON(http.StatusOK, h.leaderboard.Current())
}

// GetRoomState returns the stored room record
func (h *SyncHandler) GetRoomState(c *gin.Context) {
	roomID, ok := parseRoomID(c)
	if !ok {
		return
	}

	room, err := h.service.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, model.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		logger.Error(err, "failed to get room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get room"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room": room,
	})
}

func parseRoomID(c *gin.Context) (uuid.UUID, bool) {
	roomID, err := uuid.Parse(c.Param("roomID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room ID"})
		return uuid.Nil, false
	}
	return roomID, true
}

// roomToken reads the token from the query string, which browsers can set on
// websocket upgrades, or from a bearer header.
func roomToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	return strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
}
