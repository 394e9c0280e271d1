package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"vapor-chat/pkg/config"
	"vapor-chat/pkg/logger"
	"vapor-chat/pkg/model"
	"vapor-chat/pkg/notify"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// RowChangesChannel is the NOTIFY channel the schema triggers publish on.
const RowChangesChannel = "row_changes"

// ErrConnectionLost ends every subscription when the listener connection
// drops, since notifications sent meanwhile are gone for good.
var ErrConnectionLost = errors.New("postgres listener connection lost")

// ChangeListener fans LISTEN/NOTIFY row changes out to filtered subscriptions.
type ChangeListener struct {
	listener *pq.Listener
	buffer   int

	mu        sync.RWMutex
	connected bool
	subs      map[uuid.UUID]*subscription

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type subscription struct {
	filter model.ChangeFilter
	pipe   *notify.Pipe
}

// NewChangeListener connects a dedicated listener connection and starts
// dispatching notifications.
func NewChangeListener(cfg *config.Config, buffer int) (*ChangeListener, error) {
	minReconnect := cfg.Database.ListenerMinReconnect
	if minReconnect <= 0 {
		minReconnect = 10 * time.Second
	}
	maxReconnect := cfg.Database.ListenerMaxReconnect
	if maxReconnect < minReconnect {
		maxReconnect = minReconnect
	}

	// the callback can fire before the listener below exists
	var target atomic.Pointer[ChangeListener]
	callback := func(ev pq.ListenerEventType, err error) {
		if cl := target.Load(); cl != nil {
			cl.handleEvent(ev, err)
		}
	}

	listener := pq.NewListener(GetDSN(cfg.Database), minReconnect, maxReconnect, callback)
	if err := listener.Listen(RowChangesChannel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", RowChangesChannel, err)
	}

	cl := newChangeListener(listener.Notify, buffer)
	cl.listener = listener
	cl.setConnected(true)
	target.Store(cl)

	logger.Infof("listening for row changes on %s", RowChangesChannel)
	return cl, nil
}

func newChangeListener(notifications <-chan *pq.Notification, buffer int) *ChangeListener {
	if buffer <= 0 {
		buffer = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	cl := &ChangeListener{
		buffer: buffer,
		subs:   make(map[uuid.UUID]*subscription),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go cl.run(notifications)
	return cl
}

// SubscribeRowChanges registers a filtered subscription. It is ready at once
// while the listener is connected, otherwise on the next reconnect.
func (l *ChangeListener) SubscribeRowChanges(ctx context.Context, filter model.ChangeFilter) (notify.Feed, error) {
	select {
	case <-l.done:
		return nil, notify.ErrClosed
	default:
	}

	id := uuid.New()
	pipe := notify.NewPipe(l.buffer, func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	})

	l.mu.Lock()
	l.subs[id] = &subscription{filter: filter, pipe: pipe}
	connected := l.connected
	l.mu.Unlock()

	if connected {
		pipe.MarkReady()
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = pipe.Close()
		case <-pipe.Done():
		}
	}()
	return pipe, nil
}

// Subscribers returns the number of live subscriptions.
func (l *ChangeListener) Subscribers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}

// Close stops dispatching and ends every subscription.
func (l *ChangeListener) Close() error {
	l.cancel()
	<-l.done
	l.failAll(notify.ErrClosed)
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}

func (l *ChangeListener) run(notifications <-chan *pq.Notification) {
	defer close(l.done)

	for {
		select {
		case <-l.ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				l.failAll(ErrConnectionLost)
				return
			}
			if n == nil {
				// pq sends nil after a reconnect; anything in between is lost
				l.failAll(ErrConnectionLost)
				continue
			}
			l.dispatch(n.Extra)
		}
	}
}

func (l *ChangeListener) dispatch(payload string) {
	change, err := DecodeRowChange(payload)
	if err != nil {
		logger.Warnf("dropping malformed row change: %v", err)
		return
	}

	l.mu.RLock()
	pipes := make([]*notify.Pipe, 0, len(l.subs))
	for _, sub := range l.subs {
		if sub.filter.Match(*change) {
			pipes = append(pipes, sub.pipe)
		}
	}
	l.mu.RUnlock()

	for _, p := range pipes {
		c := *change
		p.Send(notify.Event{Change: &c})
	}
}

func (l *ChangeListener) handleEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		l.setConnected(true)
	case pq.ListenerEventReconnected:
		logger.Info("postgres listener reconnected")
		l.setConnected(true)
	case pq.ListenerEventDisconnected:
		logger.Warnf("postgres listener disconnected: %v", err)
		l.setConnected(false)
		l.failAll(ErrConnectionLost)
	case pq.ListenerEventConnectionAttemptFailed:
		logger.Warnf("postgres listener reconnect failed: %v", err)
	}
}

func (l *ChangeListener) setConnected(connected bool) {
	l.mu.Lock()
	l.connected = connected
	var pending []*notify.Pipe
	if connected {
		for _, sub := range l.subs {
			pending = append(pending, sub.pipe)
		}
	}
	l.mu.Unlock()

	for _, p := range pending {
		p.MarkReady()
	}
}

func (l *ChangeListener) failAll(err error) {
	l.mu.RLock()
	pipes := make([]*notify.Pipe, 0, len(l.subs))
	for _, sub := range l.subs {
		pipes = append(pipes, sub.pipe)
	}
	l.mu.RUnlock()

	for _, p := range pipes {
		p.Fail(err)
	}
}

// DecodeRowChange parses a notification payload written by the schema triggers.
func DecodeRowChange(payload string) (*model.RowChange, error) {
	var change model.RowChange
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return nil, fmt.Errorf("failed to decode row change: %w", err)
	}

	switch change.Table {
	case model.TableMessages, model.TableRooms:
	default:
		return nil, fmt.Errorf("unknown table %q", change.Table)
	}
	switch change.Kind {
	case model.ChangeInsert, model.ChangeUpdate, model.ChangeDelete:
	default:
		return nil, fmt.Errorf("unknown change kind %q", change.Kind)
	}
	if change.RoomID == uuid.Nil {
		return nil, errors.New("row change without room id")
	}
	if change.Table == model.TableMessages && change.Kind == model.ChangeInsert && change.Message == nil {
		return nil, errors.New("message insert without row")
	}
	return &change, nil
}
