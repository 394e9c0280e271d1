package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"

	"vapor-chat/pkg/model"
	"vapor-chat/pkg/notify"
)

// MessageSource performs the authoritative message fetch for a room.
type MessageSource interface {
	// SelectMessages returns every message of the room ordered by (created_at, id)
	SelectMessages(ctx context.Context, roomID uuid.UUID) ([]model.Message, error)
}

// Store is the storage service a room view reads and writes.
type Store interface {
	MessageSource
	SelectRoom(ctx context.Context, roomID uuid.UUID) (*model.Room, error)
	InsertMessage(ctx context.Context, roomID uuid.UUID, author, body string) (*model.Message, error)
	// DeleteMessages removes every message of the room and returns how many rows went away
	DeleteMessages(ctx context.Context, roomID uuid.UUID) (int64, error)
	// IncrementVaporizeCount atomically bumps the counter and returns the new value
	IncrementVaporizeCount(ctx context.Context, roomID uuid.UUID) (int64, error)
}

// StatsSource is what the leaderboard reads on each pass.
type StatsSource interface {
	SelectRooms(ctx context.Context) ([]model.Room, error)
	SelectMessagesSince(ctx context.Context, since time.Time) ([]model.Message, error)
	// SelectLatestMessageTimes maps room id to its newest message timestamp
	SelectLatestMessageTimes(ctx context.Context) (map[uuid.UUID]time.Time, error)
}

// ChangeSource delivers row-change notifications.
type ChangeSource interface {
	SubscribeRowChanges(ctx context.Context, filter model.ChangeFilter) (notify.Feed, error)
}

// BroadcastBus carries ephemeral room signals between peers.
type BroadcastBus interface {
	SubscribeBroadcast(ctx context.Context, roomID uuid.UUID) (notify.Feed, error)
	PublishBroadcast(ctx context.Context, event model.BroadcastEvent) error
}

// ClearLocker serializes clears of one room across processes.
type ClearLocker interface {
	// TryLock returns ok=false without error when someone else holds the lock
	TryLock(ctx context.Context, roomID uuid.UUID, ttl time.Duration) (release func(), ok bool, err error)
}
