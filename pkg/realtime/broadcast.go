package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"vapor-chat/pkg/logger"
	"vapor-chat/pkg/metrics"
	"vapor-chat/pkg/model"
)

// SignalHandler is called for every signal received on the room
type SignalHandler func(model.BroadcastEvent)

// BroadcastCoordinator publishes and fans out ephemeral room signals.
// Delivery is best effort; anything signalled here must also be derivable
// from row-change notifications.
type BroadcastCoordinator struct {
	roomID  uuid.UUID
	bus     BroadcastBus
	timeout time.Duration
	metrics *metrics.Metrics

	mu       sync.RWMutex
	handlers map[uuid.UUID]SignalHandler
}

func NewBroadcastCoordinator(roomID uuid.UUID, bus BroadcastBus, timeout time.Duration, m *metrics.Metrics) *BroadcastCoordinator {
	return &BroadcastCoordinator{
		roomID:   roomID,
		bus:      bus,
		timeout:  timeout,
		metrics:  m,
		handlers: make(map[uuid.UUID]SignalHandler),
	}
}

// Publish sends a signal to the peers currently in the room. The returned
// error is informational; callers carry on with the action being accelerated.
func (b *BroadcastCoordinator) Publish(ctx context.Context, kind model.SignalKind) error {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	err := b.bus.PublishBroadcast(ctx, model.BroadcastEvent{Kind: kind, RoomID: b.roomID})
	if err != nil {
		b.metrics.BroadcastFailed()
		logger.Warnf("failed to broadcast %s to room %s: %v", kind, b.roomID, err)
		return fmt.Errorf("failed to publish %s signal: %w", kind, err)
	}
	return nil
}

// OnSignal registers a handler and returns a func that removes it.
func (b *BroadcastCoordinator) OnSignal(handler SignalHandler) (cancel func()) {
	id := uuid.New()

	b.mu.Lock()
	b.handlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// dispatch hands a received signal to every handler.
func (b *BroadcastCoordinator) dispatch(kind model.SignalKind) {
	ev := model.BroadcastEvent{Kind: kind, RoomID: b.roomID}

	b.mu.RLock()
	handlers := make([]SignalHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
