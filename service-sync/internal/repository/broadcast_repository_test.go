package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vapor-chat/pkg/config"
	"vapor-chat/pkg/model"
	"vapor-chat/pkg/notify"
	"vapor-chat/pkg/redis"
)

func newBroadcastRepo(t *testing.T) (BroadcastRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(&config.Config{Redis: config.RedisConfig{Host: mr.Host(), Port: mr.Port()}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewBroadcastRepository(client, 8), mr
}

func waitReady(t *testing.T, feed notify.Feed) {
	t.Helper()
	select {
	case <-feed.Ready():
	case <-feed.Done():
		t.Fatalf("subscription ended: %v", feed.Err())
	case <-time.After(5 * time.Second):
		t.Fatal("subscription never became ready")
	}
}

func TestBroadcastRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, _ := newBroadcastRepo(t)
	roomID := uuid.New()

	feed, err := repo.SubscribeBroadcast(ctx, roomID)
	require.NoError(t, err)
	defer feed.Close()
	other, err := repo.SubscribeBroadcast(ctx, uuid.New())
	require.NoError(t, err)
	defer other.Close()
	waitReady(t, feed)
	waitReady(t, other)

	require.NoError(t, repo.PublishBroadcast(ctx, model.BroadcastEvent{Kind: model.SignalVaporizeEffect, RoomID: roomID}))

	select {
	case ev := <-feed.Events():
		require.NotNil(t, ev.Signal)
		assert.Equal(t, model.SignalVaporizeEffect, ev.Signal.Kind)
		assert.Equal(t, roomID, ev.Signal.RoomID)
	case <-time.After(5 * time.Second):
		t.Fatal("signal never arrived")
	}

	select {
	case ev := <-other.Events():
		t.Fatalf("signal leaked to another room: %+v", ev.Signal)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastSubscriptionEndsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	repo, _ := newBroadcastRepo(t)

	feed, err := repo.SubscribeBroadcast(ctx, uuid.New())
	require.NoError(t, err)
	waitReady(t, feed)

	cancel()
	select {
	case <-feed.Done():
		assert.ErrorIs(t, feed.Err(), notify.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription outlived its context")
	}
}

func TestBroadcastSubscribeFailsWhenRedisIsGone(t *testing.T) {
	repo, mr := newBroadcastRepo(t)
	mr.Close()

	feed, err := repo.SubscribeBroadcast(context.Background(), uuid.New())
	require.NoError(t, err)

	select {
	case <-feed.Done():
		assert.Error(t, feed.Err())
		assert.NotErrorIs(t, feed.Err(), notify.ErrClosed)
	case <-time.After(10 * time.Second):
		t.Fatal("subscription never failed")
	}
	select {
	case <-feed.Ready():
		t.Fatal("failed subscription reported ready")
	default:
	}
}

func TestClearLock(t *testing.T) {
	ctx := context.Background()
	repo, mr := newBroadcastRepo(t)
	roomID := uuid.New()

	release, ok, err := repo.TryLock(ctx, roomID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = repo.TryLock(ctx, roomID, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second clear must be coalesced")

	// another room is independent
	releaseOther, ok, err := repo.TryLock(ctx, uuid.New(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	releaseOther()

	release()
	release2, ok, err := repo.TryLock(ctx, roomID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// an expired lock is free again and a stale release leaves the new holder alone
	mr.FastForward(2 * time.Minute)
	release3, ok, err := repo.TryLock(ctx, roomID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	release2()
	_, ok, err = repo.TryLock(ctx, roomID, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	release3()
}
