package model

import (
	"slices"

	"github.com/google/uuid"
)

// ConnectionState is the lifecycle state of one room subscription
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateConnected  ConnectionState = "connected"
	StateError      ConnectionState = "error"
)

// FailureReason tells why a subscription ended in StateError
type FailureReason string

const (
	FailureError   FailureReason = "error"
	FailureTimeout FailureReason = "timeout"
	FailureClosed  FailureReason = "closed"
)

// SignalKind names an ephemeral broadcast signal
type SignalKind string

const (
	SignalClearHistory   SignalKind = "clear_history"
	SignalVaporizeEffect SignalKind = "vaporize"
)

// BroadcastEvent is an ephemeral room-scoped signal, never persisted
type BroadcastEvent struct {
	Kind   SignalKind `json:"kind"`
	RoomID uuid.UUID  `json:"room_id"`
}

// table names carried by row change notifications
const (
	TableMessages = "messages"
	TableRooms    = "rooms"
)

// ChangeKind is the row operation behind a notification
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

// RowChange is one row-change notification from storage
type RowChange struct {
	Table   string     `json:"table"`
	Kind    ChangeKind `json:"kind"`
	RoomID  uuid.UUID  `json:"room_id"`
	Message *Message   `json:"message,omitempty"`
	Room    *Room      `json:"room,omitempty"`
}

// ChangeFilter selects row changes; empty Tables matches every table and a nil RoomID every room
type ChangeFilter struct {
	Tables []string
	RoomID uuid.UUID
}

// Match reports whether the change passes the filter
func (f ChangeFilter) Match(change RowChange) bool {
	if len(f.Tables) > 0 && !slices.Contains(f.Tables, change.Table) {
		return false
	}
	return f.RoomID == uuid.Nil || f.RoomID == change.RoomID
}

// WebSocketMessage represents the structure of WebSocket messages
type WebSocketMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// server to client message types
const (
	MessageTypeState       = "state"
	MessageTypeSignal      = "signal"
	MessageTypeError       = "error"
	MessageTypeLeaderboard = "leaderboard"
	MessageTypeClosed      = "closed"
)

// client to server command types
const (
	CommandSend         = "send"
	CommandClearHistory = "clear_history"
	CommandLeave        = "leave"
	CommandResync       = "resync"
)

// ClientCommand is a command sent by a websocket client
type ClientCommand struct {
	Type string `json:"type"`
	Body string `json:"body,omitempty"`
}

// ErrorMessage represents an error message; Restore carries user input to put back after a failed action
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Restore string `json:"restore,omitempty"`
}

// RoomStatePayload is the "state" frame pushed to a room websocket client
type RoomStatePayload struct {
	Room         Room            `json:"room"`
	Author       string          `json:"author"`
	Connection   ConnectionState `json:"connection"`
	Failure      *FailureInfo    `json:"failure,omitempty"`
	Stream       string          `json:"stream"`
	Settled      bool            `json:"settled"`
	ClearPending bool            `json:"clear_pending"`
	Messages     []Message       `json:"messages"`
	Error        string          `json:"error,omitempty"`
}

// FailureInfo describes why a room subscription ended
type FailureInfo struct {
	Reason        FailureReason `json:"reason"`
	Connected     bool          `json:"connected"`
	Misconfigured bool          `json:"misconfigured"`
	Message       string        `json:"message"`
}

// LeaderboardPayload is the "leaderboard" frame and the REST leaderboard body
type LeaderboardPayload struct {
	LeaderboardSnapshot
	Error string `json:"error,omitempty"`
}
