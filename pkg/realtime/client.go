package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"vapor-chat/pkg/logger"
	"vapor-chat/pkg/metrics"
	"vapor-chat/pkg/model"
)

const (
	DefaultConnectTimeout    = 10 * time.Second
	DefaultClearConfirmDelay = 3 * time.Second
	DefaultPublishTimeout    = 2 * time.Second
	DefaultEventBuffer       = 256

	clearLockTTL = 10 * time.Second
)

// ClientOption configures a Client
type ClientOption func(*Client)

func WithClock(clock quartz.Clock) ClientOption {
	return func(c *Client) { c.clock = clock }
}

func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.connectTimeout = d }
}

// WithClearConfirmDelay sets how long a view waits for the delete behind a
// clear signal before refetching on its own.
func WithClearConfirmDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.clearConfirmDelay = d }
}

func WithPublishTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.publishTimeout = d }
}

func WithEventBuffer(n int) ClientOption {
	return func(c *Client) { c.eventBuffer = n }
}

func WithClearLocker(l ClearLocker) ClientOption {
	return func(c *Client) { c.locker = l }
}

func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// Client is the handle every room view and aggregator is created from. It
// owns no connections itself; Close tears down the views it opened.
type Client struct {
	store   Store
	changes ChangeSource
	bus     BroadcastBus
	locker  ClearLocker
	clock   quartz.Clock
	metrics *metrics.Metrics

	connectTimeout    time.Duration
	clearConfirmDelay time.Duration
	publishTimeout    time.Duration
	eventBuffer       int

	conns *ConnectionManager

	mu     sync.Mutex
	views  map[*RoomView]struct{}
	closed bool
}

func NewClient(store Store, changes ChangeSource, bus BroadcastBus, opts ...ClientOption) *Client {
	c := &Client{
		store:             store,
		changes:           changes,
		bus:               bus,
		clock:             quartz.NewReal(),
		connectTimeout:    DefaultConnectTimeout,
		clearConfirmDelay: DefaultClearConfirmDelay,
		publishTimeout:    DefaultPublishTimeout,
		eventBuffer:       DefaultEventBuffer,
		views:             make(map[*RoomView]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.conns = NewConnectionManager(changes, bus, c.clock, c.connectTimeout, c.eventBuffer, c.metrics)
	return c
}

// Connections exposes the connection manager shared by the client's views.
func (c *Client) Connections() *ConnectionManager { return c.conns }

// NewAggregator creates a leaderboard aggregator reading from stats. It is
// not started.
func (c *Client) NewAggregator(stats StatsSource, opts ...AggregatorOption) *Aggregator {
	return NewAggregator(stats, c.changes, c.clock, c.metrics, opts...)
}

// OpenRoom loads the room record and starts a view for author. The baseline
// load and the realtime channel continue in the background.
func (c *Client) OpenRoom(ctx context.Context, roomID uuid.UUID, author string) (*RoomView, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, errors.New("client closed")
	}

	room, err := c.store.SelectRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, model.ErrRoomNotFound) {
			return nil, err
		}
		return nil, &QueryError{Op: "select room", RoomID: roomID, Err: err}
	}

	v := newRoomView(ctx, c, room, author)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		v.Close()
		return nil, errors.New("client closed")
	}
	c.views[v] = struct{}{}
	c.mu.Unlock()

	c.metrics.RoomViewOpened()
	logger.Infof("opened room view %s for %q", roomID, author)
	return v, nil
}

// Close closes every view opened through the client.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	views := make([]*RoomView, 0, len(c.views))
	for v := range c.views {
		views = append(views, v)
	}
	c.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
}

func (c *Client) release(v *RoomView) {
	c.mu.Lock()
	_, ok := c.views[v]
	delete(c.views, v)
	c.mu.Unlock()
	if ok {
		c.metrics.RoomViewClosed()
	}
}

// clearRoom deletes the room history. The vaporize effect goes out before
// the delete, the clear signal after it; neither is required for peers to
// converge since they also see the delete notification.
func (c *Client) clearRoom(ctx context.Context, roomID uuid.UUID, signals *BroadcastCoordinator) (cleared bool, err error) {
	if c.locker != nil {
		release, ok, lerr := c.locker.TryLock(ctx, roomID, clearLockTTL)
		switch {
		case lerr != nil:
			logger.Warnf("failed to take clear lock for room %s, clearing anyway: %v", roomID, lerr)
		case !ok:
			c.metrics.Cleared("coalesced")
			return false, ErrClearInProgress
		default:
			defer release()
		}
	}

	_ = signals.Publish(ctx, model.SignalVaporizeEffect)

	n, err := c.store.DeleteMessages(ctx, roomID)
	if err != nil {
		c.metrics.Cleared("error")
		return false, &QueryError{Op: "delete messages", RoomID: roomID, Err: err}
	}

	_ = signals.Publish(ctx, model.SignalClearHistory)

	// a clear that found nothing to delete lost the race to another clear
	if n == 0 {
		c.metrics.Cleared("noop")
		return false, nil
	}

	count, err := c.store.IncrementVaporizeCount(ctx, roomID)
	if err != nil {
		logger.Error(err, fmt.Sprintf("failed to increment vaporize count for room %s", roomID))
	} else {
		logger.Infof("room %s vaporized %d messages, vaporize count %d", roomID, n, count)
	}
	c.metrics.Cleared("cleared")
	return true, nil
}
