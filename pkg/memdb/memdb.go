// Package memdb is an in-memory stand-in for the storage and notification
// service: it stores rooms and messages, emits row-change notifications the
// way the database triggers do, and relays broadcast signals. Tests can hook
// any operation to inject latency or failures.
package memdb

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"vapor-chat/pkg/model"
	"vapor-chat/pkg/notify"
)

// Op names a hookable operation
type Op string

const (
	OpSelectRoom             Op = "select_room"
	OpSelectRooms            Op = "select_rooms"
	OpSelectMessages         Op = "select_messages"
	OpSelectMessagesSince    Op = "select_messages_since"
	OpSelectLatestTimes      Op = "select_latest_times"
	OpInsertMessage          Op = "insert_message"
	OpDeleteMessages         Op = "delete_messages"
	OpIncrementVaporizeCount Op = "increment_vaporize_count"
	OpCreateRoom             Op = "create_room"
	OpSubscribeRowChanges    Op = "subscribe_row_changes"
	OpSubscribeBroadcast     Op = "subscribe_broadcast"
	OpPublishBroadcast       Op = "publish_broadcast"
)

// Hook runs before an operation; a non-nil error fails the operation.
type Hook func(ctx context.Context) error

type Option func(*DB)

func WithClock(clock quartz.Clock) Option {
	return func(db *DB) { db.clock = clock }
}

// WithBuffer sets how many notifications a subscriber may fall behind.
func WithBuffer(n int) Option {
	return func(db *DB) { db.buffer = n }
}

type changeSub struct {
	filter model.ChangeFilter
	pipe   *notify.Pipe
}

type DB struct {
	clock  quartz.Clock
	buffer int

	mu       sync.RWMutex
	rooms    map[uuid.UUID]*model.Room
	messages map[uuid.UUID][]model.Message

	subMu     sync.RWMutex
	changes   map[uuid.UUID]*changeSub
	broadcast map[uuid.UUID]map[uuid.UUID]*notify.Pipe

	hookMu sync.Mutex
	hooks  map[Op]Hook
}

func New(opts ...Option) *DB {
	db := &DB{
		clock:     quartz.NewReal(),
		buffer:    256,
		rooms:     make(map[uuid.UUID]*model.Room),
		messages:  make(map[uuid.UUID][]model.Message),
		changes:   make(map[uuid.UUID]*changeSub),
		broadcast: make(map[uuid.UUID]map[uuid.UUID]*notify.Pipe),
		hooks:     make(map[Op]Hook),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// SetHook installs h for op, replacing any previous hook. A nil h removes it.
func (db *DB) SetHook(op Op, h Hook) {
	db.hookMu.Lock()
	defer db.hookMu.Unlock()
	if h == nil {
		delete(db.hooks, op)
		return
	}
	db.hooks[op] = h
}

// FailNext makes the next call of op fail with err.
func (db *DB) FailNext(op Op, err error) {
	var once sync.Once
	db.SetHook(op, func(context.Context) error {
		var out error
		once.Do(func() { out = err })
		return out
	})
}

func (db *DB) runHook(ctx context.Context, op Op) error {
	db.hookMu.Lock()
	h := db.hooks[op]
	db.hookMu.Unlock()

	if h != nil {
		if err := h(ctx); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (db *DB) CreateRoom(ctx context.Context, name, secretHash string) (*model.Room, error) {
	if err := db.runHook(ctx, OpCreateRoom); err != nil {
		return nil, err
	}

	db.mu.Lock()
	for _, r := range db.rooms {
		if strings.EqualFold(r.Name, name) {
			db.mu.Unlock()
			return nil, model.ErrRoomExists
		}
	}
	room := &model.Room{
		ID:         uuid.New(),
		Name:       name,
		SecretHash: secretHash,
		CreatedAt:  db.clock.Now(),
	}
	db.rooms[room.ID] = room
	out := *room
	db.emit(model.RowChange{Table: model.TableRooms, Kind: model.ChangeInsert, RoomID: room.ID, Room: &out})
	db.mu.Unlock()

	return &out, nil
}

func (db *DB) GetRoomByName(ctx context.Context, name string) (*model.Room, error) {
	if err := db.runHook(ctx, OpSelectRoom); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, r := range db.rooms {
		if strings.EqualFold(r.Name, name) {
			out := *r
			return &out, nil
		}
	}
	return nil, model.ErrRoomNotFound
}

func (db *DB) SelectRoom(ctx context.Context, roomID uuid.UUID) (*model.Room, error) {
	if err := db.runHook(ctx, OpSelectRoom); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	r, ok := db.rooms[roomID]
	if !ok {
		return nil, model.ErrRoomNotFound
	}
	out := *r
	return &out, nil
}

func (db *DB) SelectRooms(ctx context.Context) ([]model.Room, error) {
	if err := db.runHook(ctx, OpSelectRooms); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]model.Room, 0, len(db.rooms))
	for _, r := range db.rooms {
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b model.Room) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (db *DB) SelectMessages(ctx context.Context, roomID uuid.UUID) ([]model.Message, error) {
	if err := db.runHook(ctx, OpSelectMessages); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	out := slices.Clone(db.messages[roomID])
	sortMessages(out)
	return out, nil
}

func (db *DB) SelectMessagesSince(ctx context.Context, since time.Time) ([]model.Message, error) {
	if err := db.runHook(ctx, OpSelectMessagesSince); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []model.Message
	for _, msgs := range db.messages {
		for _, m := range msgs {
			if !m.CreatedAt.Before(since) {
				out = append(out, m)
			}
		}
	}
	sortMessages(out)
	return out, nil
}

func (db *DB) SelectLatestMessageTimes(ctx context.Context) (map[uuid.UUID]time.Time, error) {
	if err := db.runHook(ctx, OpSelectLatestTimes); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make(map[uuid.UUID]time.Time, len(db.messages))
	for roomID, msgs := range db.messages {
		for _, m := range msgs {
			if m.CreatedAt.After(out[roomID]) {
				out[roomID] = m.CreatedAt
			}
		}
	}
	return out, nil
}

func (db *DB) InsertMessage(ctx context.Context, roomID uuid.UUID, author, body string) (*model.Message, error) {
	if err := db.runHook(ctx, OpInsertMessage); err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.rooms[roomID]; !ok {
		return nil, model.ErrRoomNotFound
	}
	msg := model.Message{
		ID:        uuid.New(),
		RoomID:    roomID,
		UserName:  author,
		Body:      body,
		CreatedAt: db.clock.Now(),
	}
	db.messages[roomID] = append(db.messages[roomID], msg)

	notified := msg
	db.emit(model.RowChange{Table: model.TableMessages, Kind: model.ChangeInsert, RoomID: roomID, Message: &notified})
	return &msg, nil
}

// DeleteMessages removes the room's messages and, like the statement level
// trigger, emits one delete notification when anything was removed.
func (db *DB) DeleteMessages(ctx context.Context, roomID uuid.UUID) (int64, error) {
	if err := db.runHook(ctx, OpDeleteMessages); err != nil {
		return 0, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	n := int64(len(db.messages[roomID]))
	delete(db.messages, roomID)
	if n > 0 {
		db.emit(model.RowChange{Table: model.TableMessages, Kind: model.ChangeDelete, RoomID: roomID})
	}
	return n, nil
}

func (db *DB) IncrementVaporizeCount(ctx context.Context, roomID uuid.UUID) (int64, error) {
	if err := db.runHook(ctx, OpIncrementVaporizeCount); err != nil {
		return 0, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.rooms[roomID]
	if !ok {
		return 0, model.ErrRoomNotFound
	}
	r.VaporizeCount++
	out := *r
	db.emit(model.RowChange{Table: model.TableRooms, Kind: model.ChangeUpdate, RoomID: roomID, Room: &out})
	return r.VaporizeCount, nil
}

func sortMessages(msgs []model.Message) {
	slices.SortFunc(msgs, func(a, b model.Message) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		default:
			return 0
		}
	})
}
