package controller

import (
	"errors"
	"net/http"

	"vapor-chat/pkg/logger"
	"vapor-chat/pkg/model"
	"vapor-chat/service-api/internal/app/middleware"
	roomService "vapor-chat/service-api/internal/service/room"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RoomController handles room-related HTTP requests
type RoomController struct {
	roomService *roomService.Service
}

// NewRoomController creates a new room controller
func NewRoomController(roomService *roomService.Service) *RoomController {
	return &RoomController{
		roomService: roomService,
	}
}

// CreateRoom handles POST /api/v1/rooms
func (rc *RoomController) CreateRoom(c *gin.Context) {
	// parse request
	var req model.CreateRoomRequest
	err := c.ShouldBindJSON(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// create room
	response, err := rc.roomService.CreateRoom(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrRoomExists):
			c.JSON(http.StatusConflict, gin.H{"error": "Room name already taken"})
		case errors.Is(err, roomService.ErrInvalidName):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			logger.Error(err, "failed to create room")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		}
		return
	}

	c.JSON(http.StatusCreated, response)
}

// JoinRoom handles POST /api/v1/rooms/join
func (rc *RoomController) JoinRoom(c *gin.Context) {
	// parse request
	var req model.JoinRoomRequest
	err := c.ShouldBindJSON(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// join room
	response, err := rc.roomService.JoinRoom(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrRoomNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		case errors.Is(err, roomService.ErrInvalidPassword):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid room password"})
		case errors.Is(err, roomService.ErrInvalidName):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			logger.Error(err, "failed to join room")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to join room"})
		}
		return
	}

	c.JSON(http.StatusOK, response)
}

// GetRoom handles GET /api/v1/rooms/:id (room token auth required)
func (rc *RoomController) GetRoom(c *gin.Context) {
	// room token is already validated by middleware
	roomID, ok := c.Get(middleware.KeyRoomID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Room token required"})
		return
	}

	room, err := rc.roomService.GetRoom(c.Request.Context(), roomID.(uuid.UUID))
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
		"room":         room,
		"display_name": c.GetString(middleware.KeyDisplayName),
	})
}
