package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vapor-chat/pkg/logger"
	"vapor-chat/pkg/model"
	"vapor-chat/pkg/notify"
	"vapor-chat/pkg/realtime"
	"vapor-chat/pkg/redis"

	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"
)

const releaseTimeout = 2 * time.Second

// BroadcastRepository carries ephemeral room signals over Redis pub/sub and
// holds the per-room clear lock
type BroadcastRepository interface {
	realtime.BroadcastBus
	realtime.ClearLocker
}

type broadcastRepository struct {
	redis  *redis.Client
	buffer int
}

// NewBroadcastRepository creates a new broadcast repository instance
func NewBroadcastRepository(redisClient *redis.Client, buffer int) BroadcastRepository {
	if buffer <= 0 {
		buffer = realtime.DefaultEventBuffer
	}
	return &broadcastRepository{
		redis:  redisClient,
		buffer: buffer,
	}
}

// Redis key helpers
func (r *broadcastRepository) broadcastChannel(roomID uuid.UUID) string {
	return fmt.Sprintf("vaporchat:room:%s:broadcast", roomID.String())
}

func (r *broadcastRepository) clearLockKey(roomID uuid.UUID) string {
	return fmt.Sprintf("vaporchat:room:%s:clear-lock", roomID.String())
}

// SubscribeBroadcast subscribes to the room channel. The feed becomes ready
// once Redis confirmed the subscription.
func (r *broadcastRepository) SubscribeBroadcast(ctx context.Context, roomID uuid.UUID) (notify.Feed, error) {
	pubsub := r.redis.Subscribe(ctx, r.broadcastChannel(roomID))
	pipe := notify.NewPipe(r.buffer, nil)

	// closing the pubsub is what unblocks a pending Receive
	go func() {
		select {
		case <-ctx.Done():
			_ = pipe.Close()
		case <-pipe.Done():
		}
		_ = pubsub.Close()
	}()

	go r.handleRedisMessages(ctx, roomID, pubsub, pipe)
	return pipe, nil
}

func (r *broadcastRepository) handleRedisMessages(ctx context.Context, roomID uuid.UUID, pubsub *redislib.PubSub, pipe *notify.Pipe) {
	_, err := pubsub.Receive(ctx)
	if err != nil {
		if ctx.Err() != nil {
			_ = pipe.Close()
			return
		}
		pipe.Fail(fmt.Errorf("failed to subscribe to room %s broadcast: %w", roomID, err))
		return
	}
	pipe.MarkReady()

	ch := pubsub.Channel()
	for {
		select {
		case <-pipe.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				pipe.Fail(notify.ErrClosed)
				return
			}

			var event model.BroadcastEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.Warnf("dropping malformed broadcast on %s: %v", msg.Channel, err)
				continue
			}
			if event.RoomID != roomID {
				continue
			}
			pipe.Send(notify.Event{Signal: &event})
		}
	}
}

// PublishBroadcast publishes a signal to every subscriber of the room, the
// publisher included
func (r *broadcastRepository) PublishBroadcast(ctx context.Context, event model.BroadcastEvent) error {
	return r.redis.Publish(ctx, r.broadcastChannel(event.RoomID), event)
}

// TryLock takes the room clear lock with SETNX. The lock expires on its own
// after ttl if the holder dies.
func (r *broadcastRepository) TryLock(ctx context.Context, roomID uuid.UUID, ttl time.Duration) (func(), bool, error) {
	key := r.clearLockKey(roomID)
	token := uuid.NewString()

	acquired, err := r.redis.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire clear lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if _, err := r.redis.ReleaseLock(ctx, key, token); err != nil {
			logger.Warnf("failed to release clear lock for room %s: %v", roomID, err)
		}
	}
	return release, true, nil
}
