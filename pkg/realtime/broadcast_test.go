package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vapor-chat/pkg/model"
)

// blockingBus never answers until the publish context gives up.
type blockingBus struct{ fakeTransport }

func (b *blockingBus) PublishBroadcast(ctx context.Context, _ model.BroadcastEvent) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestBroadcastPublish(t *testing.T) {
	ctx := context.Background()
	roomID := uuid.New()
	tr := &fakeTransport{}
	b := NewBroadcastCoordinator(roomID, tr, time.Second, nil)

	require.NoError(t, b.Publish(ctx, model.SignalVaporizeEffect))
	require.Len(t, tr.published, 1)
	assert.Equal(t, model.BroadcastEvent{Kind: model.SignalVaporizeEffect, RoomID: roomID}, tr.published[0])
}

func TestBroadcastPublishFailureIsReported(t *testing.T) {
	ctx := context.Background()
	down := errors.New("redis down")
	tr := &fakeTransport{subErr: down}
	b := NewBroadcastCoordinator(uuid.New(), tr, time.Second, nil)

	err := b.Publish(ctx, model.SignalClearHistory)
	assert.ErrorIs(t, err, down)
}

func TestBroadcastPublishIsBounded(t *testing.T) {
	b := NewBroadcastCoordinator(uuid.New(), &blockingBus{}, 10*time.Millisecond, nil)

	start := time.Now()
	err := b.Publish(context.Background(), model.SignalClearHistory)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestBroadcastHandlers(t *testing.T) {
	roomID := uuid.New()
	b := NewBroadcastCoordinator(roomID, &fakeTransport{}, time.Second, nil)

	var first, second []model.BroadcastEvent
	cancelFirst := b.OnSignal(func(ev model.BroadcastEvent) { first = append(first, ev) })
	cancelSecond := b.OnSignal(func(ev model.BroadcastEvent) { second = append(second, ev) })
	defer cancelSecond()

	b.dispatch(model.SignalClearHistory)
	cancelFirst()
	cancelFirst()
	b.dispatch(model.SignalVaporizeEffect)

	require.Len(t, first, 1)
	assert.Equal(t, model.BroadcastEvent{Kind: model.SignalClearHistory, RoomID: roomID}, first[0])
	require.Len(t, second, 2)
	assert.Equal(t, model.SignalVaporizeEffect, second[1].Kind)
}
