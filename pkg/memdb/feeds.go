package memdb

import (
	"context"

	"github.com/google/uuid"

	"vapor-chat/pkg/model"
	"vapor-chat/pkg/notify"
)

// SubscribeRowChanges returns a feed of row changes passing filter. The feed
// is acknowledged immediately and ends when ctx is done.
func (db *DB) SubscribeRowChanges(ctx context.Context, filter model.ChangeFilter) (notify.Feed, error) {
	if err := db.runHook(ctx, OpSubscribeRowChanges); err != nil {
		return nil, err
	}

	id := uuid.New()
	pipe := db.newPipe(ctx, func() {
		db.subMu.Lock()
		delete(db.changes, id)
		db.subMu.Unlock()
	})

	db.subMu.Lock()
	db.changes[id] = &changeSub{filter: filter, pipe: pipe}
	db.subMu.Unlock()

	pipe.MarkReady()
	return pipe, nil
}

func (db *DB) SubscribeBroadcast(ctx context.Context, roomID uuid.UUID) (notify.Feed, error) {
	if err := db.runHook(ctx, OpSubscribeBroadcast); err != nil {
		return nil, err
	}

	id := uuid.New()
	pipe := db.newPipe(ctx, func() {
		db.subMu.Lock()
		delete(db.broadcast[roomID], id)
		if len(db.broadcast[roomID]) == 0 {
			delete(db.broadcast, roomID)
		}
		db.subMu.Unlock()
	})

	db.subMu.Lock()
	listeners, ok := db.broadcast[roomID]
	if !ok {
		listeners = make(map[uuid.UUID]*notify.Pipe)
		db.broadcast[roomID] = listeners
	}
	listeners[id] = pipe
	db.subMu.Unlock()

	pipe.MarkReady()
	return pipe, nil
}

// PublishBroadcast relays the signal to every subscriber of the room, the
// publisher included.
func (db *DB) PublishBroadcast(ctx context.Context, event model.BroadcastEvent) error {
	if err := db.runHook(ctx, OpPublishBroadcast); err != nil {
		return err
	}

	db.subMu.RLock()
	pipes := make([]*notify.Pipe, 0, len(db.broadcast[event.RoomID]))
	for _, p := range db.broadcast[event.RoomID] {
		pipes = append(pipes, p)
	}
	db.subMu.RUnlock()

	for _, p := range pipes {
		ev := event
		p.Send(notify.Event{Signal: &ev})
	}
	return nil
}

// DropSubscriptions ends every open feed with err, as a lost connection would.
func (db *DB) DropSubscriptions(err error) {
	db.subMu.RLock()
	var pipes []*notify.Pipe
	for _, sub := range db.changes {
		pipes = append(pipes, sub.pipe)
	}
	for _, listeners := range db.broadcast {
		for _, p := range listeners {
			pipes = append(pipes, p)
		}
	}
	db.subMu.RUnlock()

	for _, p := range pipes {
		p.Fail(err)
	}
}

// Subscribers returns how many feeds are open, for leak checks in tests.
func (db *DB) Subscribers() int {
	db.subMu.RLock()
	defer db.subMu.RUnlock()
	n := len(db.changes)
	for _, listeners := range db.broadcast {
		n += len(listeners)
	}
	return n
}

func (db *DB) newPipe(ctx context.Context, onClose func()) *notify.Pipe {
	pipe := notify.NewPipe(db.buffer, onClose)
	go func() {
		select {
		case <-ctx.Done():
			_ = pipe.Close()
		case <-pipe.Done():
		}
	}()
	return pipe
}

// emit fans a change out to matching subscribers. It is called with db.mu
// held so notifications leave in commit order.
func (db *DB) emit(change model.RowChange) {
	db.subMu.RLock()
	var pipes []*notify.Pipe
	for _, sub := range db.changes {
		if sub.filter.Match(change) {
			pipes = append(pipes, sub.pipe)
		}
	}
	db.subMu.RUnlock()

	// an overflowing Send closes the pipe, which takes subMu
	for _, p := range pipes {
		c := change
		p.Send(notify.Event{Change: &c})
	}
}
