package model

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// MaxMessageLength bounds a message body in characters
const MaxMessageLength = 1000

// Message represents one chat message; messages are immutable and only deleted in bulk
type Message struct {
	ID        uuid.UUID `json:"id" db:"id"`
	RoomID    uuid.UUID `json:"room_id" db:"room_id"`
	UserName  string    `json:"user_name" db:"user_name"`
	Body      string    `json:"message" db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Before reports whether m sorts before other by (CreatedAt, ID)
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return bytes.Compare(m.ID[:], other.ID[:]) < 0
}
