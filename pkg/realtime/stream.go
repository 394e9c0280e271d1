package realtime

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"vapor-chat/pkg/logger"
	"vapor-chat/pkg/metrics"
	"vapor-chat/pkg/model"
)

// StreamState is the reconciliation state of a MessageStream
type StreamState string

const (
	StreamLoading     StreamState = "loading"
	StreamSynced      StreamState = "synced"
	StreamReconciling StreamState = "reconciling"
	StreamFailed      StreamState = "failed"
)

// Settled reports whether the view is authoritative.
func (s StreamState) Settled() bool { return s == StreamSynced }

// maxPending bounds the notifications queued while the view is not synced.
// Past it the queue collapses into a single refetch marker.
const maxPending = 1024

// StreamSnapshot is an immutable copy of a stream's view.
type StreamSnapshot struct {
	State    StreamState
	Messages []model.Message
	Err      error
}

// MessageStream keeps the ordered, deduplicated messages of one room.
//
// Inserts are applied in place. Any delete triggers a full refetch that
// replaces the view. Notifications that arrive while a fetch is in flight or
// after a failed fetch are queued and replayed, in arrival order, on top of the
// next successful fetch.
type MessageStream struct {
	roomID  uuid.UUID
	src     MessageSource
	metrics *metrics.Metrics

	mu       sync.Mutex
	state    StreamState
	messages []model.Message
	ids      map[uuid.UUID]struct{}
	pending  []Event
	inflight bool
	closed   bool
	err      error
}

func NewMessageStream(roomID uuid.UUID, src MessageSource, m *metrics.Metrics) *MessageStream {
	return &MessageStream{
		roomID:  roomID,
		src:     src,
		metrics: m,
		state:   StreamLoading,
		ids:     make(map[uuid.UUID]struct{}),
	}
}

// Load performs the baseline fetch. It is also the retry path after a failure.
func (s *MessageStream) Load(ctx context.Context) ([]model.Message, error) {
	return s.fetch(ctx, StreamLoading, PhaseBaseline)
}

// Reconcile refetches the room and replaces the view wholesale.
func (s *MessageStream) Reconcile(ctx context.Context) ([]model.Message, error) {
	return s.fetch(ctx, StreamReconciling, PhaseRefetch)
}

// Apply incorporates one notification and returns the resulting view.
func (s *MessageStream) Apply(ctx context.Context, ev Event) ([]model.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStreamClosed
	}

	switch ev.Kind {
	case EventInsert:
		if ev.Message == nil || ev.Message.RoomID != s.roomID {
			break
		}
		if s.state != StreamSynced || s.inflight {
			s.enqueue(ev)
			break
		}
		s.insert(*ev.Message)

	case EventDelete:
		if s.state != StreamSynced || s.inflight {
			s.enqueue(ev)
			break
		}
		s.mu.Unlock()
		return s.Reconcile(ctx)
	}

	out := slices.Clone(s.messages)
	s.mu.Unlock()
	return out, nil
}

// Snapshot returns a copy of the current view.
func (s *MessageStream) Snapshot() StreamSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StreamSnapshot{
		State:    s.state,
		Messages: slices.Clone(s.messages),
		Err:      s.err,
	}
}

// Close detaches the stream; responses that arrive afterwards are dropped.
func (s *MessageStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pending = nil
}

func (s *MessageStream) fetch(ctx context.Context, state StreamState, phase ReconcilePhase) ([]model.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStreamClosed
	}
	if s.inflight {
		// the running fetch replays queued deletes, so queue one instead of racing it
		s.enqueue(Event{Kind: EventDelete})
		s.mu.Unlock()
		return nil, ErrLoadInFlight
	}
	s.inflight = true
	s.state = state
	s.mu.Unlock()

	for {
		msgs, err := s.src.SelectMessages(ctx, s.roomID)

		s.mu.Lock()
		if s.closed || ctx.Err() != nil {
			s.inflight = false
			s.mu.Unlock()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrStreamClosed
		}

		if err != nil {
			s.inflight = false
			s.state = StreamFailed
			s.err = &ReconciliationError{RoomID: s.roomID, Phase: phase, Err: err}
			out, rerr := slices.Clone(s.messages), s.err
			s.mu.Unlock()

			s.metrics.Reconciled(string(phase), err)
			logger.Warnf("message %s for room %s failed, view is unsettled: %v", phase, s.roomID, err)
			return out, rerr
		}

		// a delete queued during the fetch may postdate the rows we got back
		if i := lastDelete(s.pending); i >= 0 {
			s.pending = s.pending[i+1:]
			s.mu.Unlock()
			continue
		}

		s.replace(msgs)
		for _, ev := range s.pending {
			s.insert(*ev.Message)
		}
		s.pending = nil
		s.inflight = false
		s.state = StreamSynced
		s.err = nil
		out := slices.Clone(s.messages)
		s.mu.Unlock()

		s.metrics.Reconciled(string(phase), nil)
		return out, nil
	}
}

// enqueue must be called with s.mu held
func (s *MessageStream) enqueue(ev Event) {
	if len(s.pending) >= maxPending {
		s.pending = s.pending[:0]
		ev = Event{Kind: EventDelete}
	}
	s.pending = append(s.pending, ev)
}

// replace must be called with s.mu held
func (s *MessageStream) replace(msgs []model.Message) {
	s.messages = make([]model.Message, 0, len(msgs))
	clear(s.ids)
	for _, msg := range msgs {
		if msg.RoomID != s.roomID {
			continue
		}
		s.insert(msg)
	}
}

// insert keeps s.messages sorted by (CreatedAt, ID) and unique by ID; must be called with s.mu held
func (s *MessageStream) insert(msg model.Message) bool {
	if _, dup := s.ids[msg.ID]; dup {
		return false
	}
	i := sort.Search(len(s.messages), func(i int) bool {
		return msg.Before(s.messages[i])
	})
	s.messages = slices.Insert(s.messages, i, msg)
	s.ids[msg.ID] = struct{}{}
	return true
}

func lastDelete(events []Event) int {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == EventDelete {
			return i
		}
	}
	return -1
}
