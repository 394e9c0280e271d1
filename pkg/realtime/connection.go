package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"vapor-chat/pkg/logger"
	"vapor-chat/pkg/metrics"
	"vapor-chat/pkg/model"
	"vapor-chat/pkg/notify"
)

// EventKind tags what a channel Event carries
type EventKind int

const (
	EventStatus EventKind = iota
	EventInsert
	EventDelete
	EventSignal
)

func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventInsert:
		return "insert"
	case EventDelete:
		return "delete"
	case EventSignal:
		return "signal"
	default:
		return "unknown"
	}
}

// Event is one item of a room channel's unified stream.
type Event struct {
	Kind EventKind
	// Status and Failure are set for EventStatus
	Status  model.ConnectionState
	Failure *TransportError
	// Message is set for EventInsert; deletes carry no row
	Message *model.Message
	Signal  model.SignalKind
}

const tagConnect = "connect"

// ConnectionManager opens one realtime channel per room.
type ConnectionManager struct {
	changes        ChangeSource
	bus            BroadcastBus
	clock          quartz.Clock
	connectTimeout time.Duration
	buffer         int
	metrics        *metrics.Metrics
}

func NewConnectionManager(changes ChangeSource, bus BroadcastBus, clock quartz.Clock, connectTimeout time.Duration, buffer int, m *metrics.Metrics) *ConnectionManager {
	if buffer <= 0 {
		buffer = 1
	}
	return &ConnectionManager{
		changes:        changes,
		bus:            bus,
		clock:          clock,
		connectTimeout: connectTimeout,
		buffer:         buffer,
		metrics:        m,
	}
}

// Open starts subscribing to the room and returns at once with the channel in
// StateConnecting. The channel ends when ctx is done, Close is called, or the
// transport fails; there is no implicit reconnect.
func (m *ConnectionManager) Open(ctx context.Context, roomID uuid.UUID) *Channel {
	ctx, cancel := context.WithCancel(ctx)
	ch := &Channel{
		roomID: roomID,
		state:  model.StateConnecting,
		events: make(chan Event, m.buffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go ch.run(ctx, m)
	return ch
}

// Channel is one room subscription.
type Channel struct {
	roomID uuid.UUID

	mu      sync.RWMutex
	state   model.ConnectionState
	failure *TransportError

	events chan Event
	done   chan struct{}
	cancel context.CancelFunc
}

func (c *Channel) RoomID() uuid.UUID { return c.roomID }

func (c *Channel) State() model.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Failure returns the error that moved the channel to StateError, if any.
func (c *Channel) Failure() *TransportError {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failure
}

// Events is closed once the channel stops delivering.
func (c *Channel) Events() <-chan Event { return c.events }

// Done is closed after the channel released its subscriptions.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Close cancels delivery. It is safe to call before the channel connected and more than once.
func (c *Channel) Close() {
	c.cancel()
	<-c.done
}

// transition applies a state change if the state machine allows it.
func (c *Channel) transition(to model.ConnectionState, failure *TransportError) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state == model.StateConnecting && to == model.StateConnected:
	case c.state != model.StateError && to == model.StateError:
	default:
		return false
	}

	c.state = to
	c.failure = failure
	return true
}

func (c *Channel) run(ctx context.Context, m *ConnectionManager) {
	defer close(c.done)
	defer close(c.events)

	timer := m.clock.NewTimer(m.connectTimeout, tagConnect)
	defer timer.Stop()

	rows, err := m.changes.SubscribeRowChanges(ctx, model.ChangeFilter{
		Tables: []string{model.TableMessages},
		RoomID: c.roomID,
	})
	if err != nil {
		c.fail(ctx, m, model.FailureError, false, err)
		return
	}
	defer rows.Close()

	signals, err := m.bus.SubscribeBroadcast(ctx, c.roomID)
	if err != nil {
		c.fail(ctx, m, model.FailureError, false, err)
		return
	}
	defer signals.Close()

	rowsReady, signalsReady := rows.Ready(), signals.Ready()
	for rowsReady != nil || signalsReady != nil {
		select {
		case <-ctx.Done():
			return
		case <-rowsReady:
			rowsReady = nil
		case <-signalsReady:
			signalsReady = nil
		case <-rows.Done():
			c.failFeed(ctx, m, rows.Err(), false)
			return
		case <-signals.Done():
			c.failFeed(ctx, m, signals.Err(), false)
			return
		case <-timer.C:
			c.fail(ctx, m, model.FailureTimeout, false, notify.ErrTimeout)
			return
		}
	}
	timer.Stop()

	if !c.transition(model.StateConnected, nil) {
		return
	}
	logger.Debugf("realtime channel for room %s connected", c.roomID)
	if !c.deliver(ctx, Event{Kind: EventStatus, Status: model.StateConnected}) {
		return
	}

	for {
		var ev Event
		select {
		case <-ctx.Done():
			return
		case <-rows.Done():
			if c.drain(ctx, rows, signals) {
				c.failFeed(ctx, m, rows.Err(), true)
			}
			return
		case <-signals.Done():
			if c.drain(ctx, rows, signals) {
				c.failFeed(ctx, m, signals.Err(), true)
			}
			return
		case n := <-rows.Events():
			var ok bool
			if ev, ok = rowEvent(n); !ok {
				continue
			}
		case n := <-signals.Events():
			var ok bool
			if ev, ok = c.signalEvent(n); !ok {
				continue
			}
		}
		if !c.deliver(ctx, ev) {
			return
		}
	}
}

// rowEvent maps a message row change onto a channel event; updates carry nothing the view needs.
func rowEvent(n notify.Event) (Event, bool) {
	if n.Change == nil || n.Change.Table != model.TableMessages {
		return Event{}, false
	}
	switch n.Change.Kind {
	case model.ChangeInsert:
		if n.Change.Message == nil {
			return Event{}, false
		}
		msg := *n.Change.Message
		return Event{Kind: EventInsert, Message: &msg}, true
	case model.ChangeDelete:
		return Event{Kind: EventDelete}, true
	default:
		return Event{}, false
	}
}

func (c *Channel) signalEvent(n notify.Event) (Event, bool) {
	if n.Signal == nil || n.Signal.RoomID != c.roomID {
		return Event{}, false
	}
	return Event{Kind: EventSignal, Signal: n.Signal.Kind}, true
}

// drain delivers whatever both feeds still buffer once one of them ended, so
// notifications sent before the failure are not lost behind it.
func (c *Channel) drain(ctx context.Context, rows, signals notify.Feed) bool {
	for {
		var (
			ev Event
			ok bool
		)
		select {
		case n := <-rows.Events():
			ev, ok = rowEvent(n)
		case n := <-signals.Events():
			ev, ok = c.signalEvent(n)
		default:
			return true
		}
		if ok && !c.deliver(ctx, ev) {
			return false
		}
	}
}

func (c *Channel) deliver(ctx context.Context, ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// failFeed classifies a feed that ended on its own.
func (c *Channel) failFeed(ctx context.Context, m *ConnectionManager, err error, connected bool) {
	reason := model.FailureError
	switch {
	case err == nil || errors.Is(err, notify.ErrClosed):
		reason = model.FailureClosed
		if err == nil {
			err = notify.ErrClosed
		}
	case errors.Is(err, notify.ErrTimeout):
		reason = model.FailureTimeout
	}
	c.fail(ctx, m, reason, connected, err)
}

func (c *Channel) fail(ctx context.Context, m *ConnectionManager, reason model.FailureReason, connected bool, err error) {
	// a caller initiated close is not a transport failure
	if ctx.Err() != nil {
		return
	}

	failure := &TransportError{
		RoomID:    c.roomID,
		Reason:    reason,
		Connected: connected,
		Err:       err,
	}
	if !c.transition(model.StateError, failure) {
		return
	}

	m.metrics.ConnectionFailed(string(reason))
	if failure.Misconfigured() {
		logger.Errorf(err, "realtime channel for room %s closed before connecting, check storage credentials", c.roomID)
	} else {
		logger.Warnf("realtime channel for room %s failed (%s): %v", c.roomID, reason, err)
	}

	c.deliver(ctx, Event{Kind: EventStatus, Status: model.StateError, Failure: failure})
}
