package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"vapor-chat/pkg/logger"
	"vapor-chat/pkg/model"
)

const tagClearConfirm = "clear-confirm"

// Snapshot is what a room view presents at one point in time.
type Snapshot struct {
	Room       model.Room
	Author     string
	Connection model.ConnectionState
	Failure    *TransportError
	Stream     StreamState
	Messages   []model.Message
	// Err is the reconciliation error that left the view unsettled
	Err error
	// ClearPending is set between a clear signal and the delete confirming it
	ClearPending bool
}

// Settled reports whether the messages are authoritative.
func (s Snapshot) Settled() bool { return s.Stream.Settled() }

// RoomView is one client's live view of a room. All notification handling
// and reconciliation for the room run on the view's own loop goroutine.
type RoomView struct {
	client *Client
	roomID uuid.UUID
	author string

	stream  *MessageStream
	signals *BroadcastCoordinator

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	cmds   chan func()

	mu           sync.Mutex
	room         model.Room
	conn         *Channel
	clearPending bool
	confirmTimer *quartz.Timer
	lastDelete   time.Time
	subs         map[uuid.UUID]chan Snapshot
	closeOnce    sync.Once
}

func newRoomView(ctx context.Context, c *Client, room *model.Room, author string) *RoomView {
	ctx, cancel := context.WithCancel(ctx)
	v := &RoomView{
		client:  c,
		roomID:  room.ID,
		author:  author,
		room:    *room,
		stream:  NewMessageStream(room.ID, c.store, c.metrics),
		signals: NewBroadcastCoordinator(room.ID, c.bus, c.publishTimeout, c.metrics),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		cmds:    make(chan func()),
		subs:    make(map[uuid.UUID]chan Snapshot),
	}
	v.conn = c.conns.Open(ctx, room.ID)

	go v.run()
	go v.loadBaseline()
	return v
}

func (v *RoomView) RoomID() uuid.UUID { return v.roomID }

// Done is closed once the view is torn down.
func (v *RoomView) Done() <-chan struct{} { return v.done }

// Snapshot returns the current state of the view.
func (v *RoomView) Snapshot() Snapshot {
	v.mu.Lock()
	conn := v.conn
	snap := Snapshot{
		Room:         v.room,
		Author:       v.author,
		ClearPending: v.clearPending,
	}
	v.mu.Unlock()

	snap.Connection = conn.State()
	snap.Failure = conn.Failure()

	s := v.stream.Snapshot()
	snap.Stream = s.State
	snap.Messages = s.Messages
	snap.Err = s.Err
	return snap
}

// Subscribe returns a channel that always holds the newest snapshot. It is
// closed when the view closes or cancel is called.
func (v *RoomView) Subscribe() (<-chan Snapshot, func()) {
	id := uuid.New()
	ch := make(chan Snapshot, 1)
	ch <- v.Snapshot()

	v.mu.Lock()
	select {
	case <-v.done:
		v.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	v.subs[id] = ch
	v.mu.Unlock()

	return ch, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if _, ok := v.subs[id]; ok {
			delete(v.subs, id)
			close(ch)
		}
	}
}

// OnSignal registers a handler for ephemeral signals received on the room.
// Handlers run on the view loop and must not block or call back into the view.
func (v *RoomView) OnSignal(h SignalHandler) (cancel func()) {
	return v.signals.OnSignal(h)
}

// Send stores a new message authored by the view's author. On failure the
// returned *QueryError carries the body so it can be restored.
func (v *RoomView) Send(ctx context.Context, body string) (*model.Message, error) {
	text := strings.TrimSpace(body)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > model.MaxMessageLength {
		return nil, &QueryError{Op: "insert message", RoomID: v.roomID, Input: body, Err: ErrMessageTooLong}
	}
	if v.closed() {
		return nil, ErrViewClosed
	}

	msg, err := v.client.store.InsertMessage(ctx, v.roomID, v.author, text)
	if err != nil {
		return nil, &QueryError{Op: "insert message", RoomID: v.roomID, Input: body, Err: err}
	}

	// apply locally too so the sender sees it even while the channel is down;
	// the notification that follows is deduplicated
	inserted := *msg
	_ = v.do(ctx, func() {
		v.apply(Event{Kind: EventInsert, Message: &inserted})
	})
	return msg, nil
}

// ClearHistory deletes every message of the room for everyone.
func (v *RoomView) ClearHistory(ctx context.Context) error {
	if v.closed() {
		return ErrViewClosed
	}

	_, err := v.client.clearRoom(ctx, v.roomID, v.signals)
	if errors.Is(err, ErrClearInProgress) {
		logger.Infof("clear of room %s already running elsewhere", v.roomID)
		err = nil
	}
	if err != nil {
		return err
	}

	return v.do(ctx, func() {
		v.apply(Event{Kind: EventDelete})
	})
}

// Leave wipes the room history and closes the view. The view closes even
// when the wipe fails; the error is returned for reporting.
func (v *RoomView) Leave(ctx context.Context) error {
	defer v.Close()

	if v.closed() {
		return ErrViewClosed
	}
	_, err := v.client.clearRoom(ctx, v.roomID, v.signals)
	if errors.Is(err, ErrClearInProgress) {
		return nil
	}
	return err
}

// Resync is the explicit retry after a failure: it reopens a channel that
// ended in the error state and reloads the messages.
func (v *RoomView) Resync(ctx context.Context) error {
	derr := v.do(ctx, func() {
		v.mu.Lock()
		old := v.conn
		reopen := old.State() == model.StateError
		if reopen {
			v.conn = v.client.conns.Open(v.ctx, v.roomID)
		}
		v.mu.Unlock()
		if reopen {
			old.Close()
		}
		v.notify()
	})
	if derr != nil {
		return derr
	}

	if room, rerr := v.client.store.SelectRoom(ctx, v.roomID); rerr == nil {
		v.mu.Lock()
		v.room = *room
		v.mu.Unlock()
	}

	_, err := v.stream.Load(v.ctx)
	v.notify()
	if errors.Is(err, ErrLoadInFlight) {
		return nil
	}
	return err
}

// Close tears the view down, cancelling in-flight fetches. Safe to call more than once.
func (v *RoomView) Close() {
	v.closeOnce.Do(func() {
		v.cancel()
		<-v.done

		v.stream.Close()
		v.currentConn().Close()

		v.mu.Lock()
		if v.confirmTimer != nil {
			v.confirmTimer.Stop()
		}
		for id, ch := range v.subs {
			delete(v.subs, id)
			close(ch)
		}
		v.mu.Unlock()

		v.client.release(v)
		logger.Infof("closed room view %s for %q", v.roomID, v.author)
	})
}

func (v *RoomView) closed() bool {
	select {
	case <-v.done:
		return true
	default:
		return false
	}
}

func (v *RoomView) currentConn() *Channel {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conn
}

// do runs fn on the view loop and waits for it.
func (v *RoomView) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	select {
	case v.cmds <- wrapped:
	case <-v.done:
		return ErrViewClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-v.done:
		return ErrViewClosed
	}
}

func (v *RoomView) run() {
	defer close(v.done)

	conn := v.currentConn()
	events := conn.Events()
	for {
		select {
		case <-v.ctx.Done():
			return

		case fn := <-v.cmds:
			fn()
			// a command may have swapped the channel
			if c := v.currentConn(); c != conn {
				conn = c
				events = conn.Events()
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			v.handle(ev)
		}
	}
}

// handle runs on the loop.
func (v *RoomView) handle(ev Event) {
	switch ev.Kind {
	case EventStatus:
		if ev.Status == model.StateConnected {
			// anything committed between the baseline read and the subscription
			// is only visible through a fetch; a running fetch loops once more
			switch v.stream.Snapshot().State {
			case StreamFailed:
			case StreamLoading:
				v.loadBaseline()
				return
			default:
				v.reconcile()
				return
			}
		}
		v.notify()

	case EventInsert:
		v.apply(ev)

	case EventDelete:
		v.settleClear()
		v.mu.Lock()
		v.lastDelete = v.client.clock.Now(tagClearConfirm)
		v.mu.Unlock()
		v.apply(ev)

	case EventSignal:
		v.signals.dispatch(ev.Signal)
		if ev.Signal == model.SignalClearHistory {
			v.expectClear()
		}
		v.notify()
	}
}

// apply runs on the loop.
func (v *RoomView) apply(ev Event) {
	if _, err := v.stream.Apply(v.ctx, ev); err != nil && !errors.Is(err, ErrLoadInFlight) && v.ctx.Err() == nil {
		logger.Warnf("failed to apply %s to room %s: %v", ev.Kind, v.roomID, err)
	}
	v.notify()
}

func (v *RoomView) reconcile() {
	if _, err := v.stream.Reconcile(v.ctx); err != nil && !errors.Is(err, ErrLoadInFlight) && v.ctx.Err() == nil {
		logger.Warnf("failed to reconcile room %s: %v", v.roomID, err)
	}
	v.notify()
}

// expectClear marks the view as clearing and schedules a refetch in case the
// delete notification never shows up.
func (v *RoomView) expectClear() {
	v.mu.Lock()
	defer v.mu.Unlock()

	// the delete may have overtaken its signal
	if !v.lastDelete.IsZero() && v.client.clock.Since(v.lastDelete, tagClearConfirm) < v.client.clearConfirmDelay {
		return
	}

	v.clearPending = true
	if v.confirmTimer != nil {
		v.confirmTimer.Stop()
	}
	v.confirmTimer = v.client.clock.AfterFunc(v.client.clearConfirmDelay, func() {
		_ = v.do(v.ctx, func() {
			v.settleClear()
			v.reconcile()
		})
	}, tagClearConfirm)
}

func (v *RoomView) settleClear() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.clearPending = false
	if v.confirmTimer != nil {
		v.confirmTimer.Stop()
		v.confirmTimer = nil
	}
}

func (v *RoomView) loadBaseline() {
	if _, err := v.stream.Load(v.ctx); err != nil && v.ctx.Err() == nil && !errors.Is(err, ErrLoadInFlight) {
		logger.Warnf("baseline load for room %s failed: %v", v.roomID, err)
	}
	v.notify()
}

// notify pushes the newest snapshot to every subscriber.
func (v *RoomView) notify() {
	if v.ctx.Err() != nil {
		return
	}
	snap := v.Snapshot()

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, ch := range v.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
