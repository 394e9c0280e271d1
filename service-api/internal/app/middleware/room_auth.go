package middleware

import (
	"errors"
	"net/http"
	"strings"

	"vapor-chat/pkg/auth"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// context keys set by RoomTokenAuth
const (
	KeyRoomClaims  = "roomClaims"
	KeyRoomID      = "roomID"
	KeyDisplayName = "displayName"
)

// RoomTokenValidator checks a room token against a room
type RoomTokenValidator interface {
	ValidateRoomToken(token string, roomID uuid.UUID) (*auth.RoomClaims, error)
}

// RoomTokenAuth validates the room token for the room ID in the URL
func RoomTokenAuth(validator RoomTokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		// get room ID from URL parameter
		roomID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room ID"})
			c.Abort()
			return
		}

		// get room token from query parameter or header
		token := c.Query("token")
		if token == "" {
			bearer := strings.Split(c.GetHeader("Authorization"), " ")
			if len(bearer) == 2 && bearer[0] == "Bearer" {
				token = bearer[1]
			}
		}

		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Room token required"})
			c.Abort()
			return
		}

		claims, err := validator.ValidateRoomToken(token, roomID)
		if err != nil {
			if errors.Is(err, auth.ErrWrongRoom) {
				c.JSON(http.StatusForbidden, gin.H{"error": "Room token not valid for this room"})
			} else {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired room token"})
			}
			c.Abort()
			return
		}

		// set participant info in context for use by handlers
		c.Set(KeyRoomClaims, claims)
		c.Set(KeyRoomID, roomID)
		c.Set(KeyDisplayName, claims.DisplayName)

		c.Next()
	}
}
