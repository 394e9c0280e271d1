package model

import (
	"time"

	"github.com/google/uuid"
)

// RoomStat is one leaderboard row
type RoomStat struct {
	RoomID            uuid.UUID `json:"room_id"`
	Name              string    `json:"name"`
	ActiveUsers       int       `json:"active_users"`
	MessagesPerMinute int       `json:"messages_per_minute"`
	VaporizeCount     int64     `json:"vaporize_count"`
	RecentActivity    time.Time `json:"recent_activity"`
}

// LeaderboardSnapshot is the persisted/streamed form of a ranking
type LeaderboardSnapshot struct {
	Rooms      []RoomStat `json:"rooms"`
	ComputedAt time.Time  `json:"computed_at"`
}
