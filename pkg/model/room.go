package model

import (
	"time"

	"github.com/google/uuid"
)

// Room represents a chat room
type Room struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	SecretHash    string    `json:"-" db:"password_hash"`
	VaporizeCount int64     `json:"vaporize_count" db:"vaporize_count"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// CreateRoomRequest represents the request to create a new room
type CreateRoomRequest struct {
	Name        string `json:"name" binding:"required,max=64"`
	Password    string `json:"password" binding:"required,min=4,max=72"`
	DisplayName string `json:"display_name" binding:"required,max=32"`
}

// JoinRoomRequest represents the request to join an existing room by name
type JoinRoomRequest struct {
	Name        string `json:"name" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name" binding:"required,max=32"`
}

// RoomAccessResponse is returned after creating or joining a room
type RoomAccessResponse struct {
	Room        Room      `json:"room"`
	DisplayName string    `json:"display_name"`
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
}
