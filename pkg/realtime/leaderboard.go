package realtime

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vapor-chat/pkg/logger"
	"vapor-chat/pkg/metrics"
	"vapor-chat/pkg/model"
	"vapor-chat/pkg/notify"
)

const (
	DefaultLeaderboardInterval = 10 * time.Second
	DefaultLeaderboardWindow   = time.Minute
	DefaultLeaderboardLimit    = 10

	tagLeaderboard = "leaderboard"
)

// ComputeRankings ranks rooms by activity in the window ending at now.
// It is a pure function of its inputs.
func ComputeRankings(rooms []model.Room, recent []model.Message, latest map[uuid.UUID]time.Time, now time.Time, window time.Duration, limit int) []model.RoomStat {
	since := now.Add(-window)

	type tally struct {
		count   int
		authors map[string]struct{}
	}
	tallies := make(map[uuid.UUID]*tally, len(rooms))
	for _, msg := range recent {
		if msg.CreatedAt.Before(since) || msg.CreatedAt.After(now) {
			continue
		}
		t, ok := tallies[msg.RoomID]
		if !ok {
			t = &tally{authors: make(map[string]struct{})}
			tallies[msg.RoomID] = t
		}
		t.count++
		t.authors[msg.UserName] = struct{}{}
	}

	stats := make([]model.RoomStat, 0, len(rooms))
	for _, room := range rooms {
		stat := model.RoomStat{
			RoomID:         room.ID,
			Name:           room.Name,
			VaporizeCount:  room.VaporizeCount,
			RecentActivity: room.CreatedAt,
		}
		if ts, ok := latest[room.ID]; ok {
			stat.RecentActivity = ts
		}
		if t, ok := tallies[room.ID]; ok {
			stat.MessagesPerMinute = t.count
			stat.ActiveUsers = len(t.authors)
		}
		stats = append(stats, stat)
	}

	slices.SortStableFunc(stats, compareStats)
	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}
	return stats
}

func compareStats(a, b model.RoomStat) int {
	if a.MessagesPerMinute != b.MessagesPerMinute {
		return b.MessagesPerMinute - a.MessagesPerMinute
	}
	if a.ActiveUsers != b.ActiveUsers {
		return b.ActiveUsers - a.ActiveUsers
	}
	if c := b.RecentActivity.Compare(a.RecentActivity); c != 0 {
		return c
	}
	// fully tied rooms keep a stable order across passes
	return compareIDs(a.RoomID, b.RoomID)
}

func compareIDs(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// AggregatorOption configures an Aggregator
type AggregatorOption func(*Aggregator)

func WithLeaderboardInterval(d time.Duration) AggregatorOption {
	return func(a *Aggregator) { a.interval = d }
}

func WithLeaderboardWindow(d time.Duration) AggregatorOption {
	return func(a *Aggregator) { a.window = d }
}

func WithLeaderboardLimit(n int) AggregatorOption {
	return func(a *Aggregator) { a.limit = n }
}

// Aggregator keeps the room ranking current. Passes run on a single worker:
// triggers arriving while a pass is running collapse into one follow-up pass.
type Aggregator struct {
	src     StatsSource
	changes ChangeSource
	clock   quartz.Clock
	metrics *metrics.Metrics

	interval time.Duration
	window   time.Duration
	limit    int

	trigger chan struct{}
	started atomic.Int64 // sequence of the newest pass started

	mu        sync.RWMutex
	current   []model.RoomStat
	computed  time.Time
	published int64 // sequence of the pass behind current
	lastErr   error
	subs      map[uuid.UUID]chan model.LeaderboardSnapshot

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewAggregator(src StatsSource, changes ChangeSource, clock quartz.Clock, m *metrics.Metrics, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		src:      src,
		changes:  changes,
		clock:    clock,
		metrics:  m,
		interval: DefaultLeaderboardInterval,
		window:   DefaultLeaderboardWindow,
		limit:    DefaultLeaderboardLimit,
		trigger:  make(chan struct{}, 1),
		subs:     make(map[uuid.UUID]chan model.LeaderboardSnapshot),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start runs the first pass and keeps recomputing on the timer and on row
// changes until ctx is done or Close is called.
func (a *Aggregator) Start(ctx context.Context) error {
	if a.cancel != nil {
		return errors.New("aggregator already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.worker(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.watchChanges(ctx)
	}()

	a.clock.TickerFunc(ctx, a.interval, func() error {
		a.Trigger()
		return nil
	}, tagLeaderboard)

	a.Trigger()
	return nil
}

// Close cancels the timer and any in-flight pass and waits for them.
func (a *Aggregator) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	a.mu.Lock()
	for id, ch := range a.subs {
		delete(a.subs, id)
		close(ch)
	}
	a.mu.Unlock()
	return nil
}

// Trigger requests a pass without blocking; pending requests coalesce.
func (a *Aggregator) Trigger() {
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

// Rankings returns the latest published ranking.
func (a *Aggregator) Rankings() []model.RoomStat {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.current)
}

// Snapshot returns the latest ranking together with when it was computed.
func (a *Aggregator) Snapshot() model.LeaderboardSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return model.LeaderboardSnapshot{Rooms: slices.Clone(a.current), ComputedAt: a.computed}
}

// Err returns the error of the last failed pass, cleared by the next success.
func (a *Aggregator) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastErr
}

// Subscribe returns a channel holding the newest ranking. A slow reader only
// ever misses intermediate rankings, never the latest one.
func (a *Aggregator) Subscribe() (<-chan model.LeaderboardSnapshot, func()) {
	id := uuid.New()
	ch := make(chan model.LeaderboardSnapshot, 1)

	a.mu.Lock()
	a.subs[id] = ch
	if a.published > 0 {
		ch <- model.LeaderboardSnapshot{Rooms: slices.Clone(a.current), ComputedAt: a.computed}
	}
	a.mu.Unlock()

	return ch, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(ch)
		}
	}
}

// ComputeRankings runs one pass now. On failure the previous ranking stays
// in place and the error is returned for reporting only.
func (a *Aggregator) ComputeRankings(ctx context.Context) ([]model.RoomStat, error) {
	seq := a.started.Add(1)
	start := a.clock.Now()

	var (
		rooms  []model.Room
		recent []model.Message
		latest map[uuid.UUID]time.Time
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rooms, err = a.src.SelectRooms(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		recent, err = a.src.SelectMessagesSince(gctx, start.Add(-a.window))
		return err
	})
	g.Go(func() error {
		var err error
		latest, err = a.src.SelectLatestMessageTimes(gctx)
		return err
	})
	err := g.Wait()
	a.metrics.LeaderboardPass(a.clock.Since(start), err)

	if err != nil {
		err = fmt.Errorf("failed to compute leaderboard: %w", err)
		a.mu.Lock()
		if seq > a.published {
			a.lastErr = err
		}
		a.mu.Unlock()
		logger.Warnf("leaderboard pass failed, keeping previous ranking: %v", err)
		return a.Rankings(), err
	}

	stats := ComputeRankings(rooms, recent, latest, start, a.window, a.limit)
	a.publish(seq, start, stats)
	return slices.Clone(stats), nil
}

// publish installs stats unless a newer pass already landed.
func (a *Aggregator) publish(seq int64, computed time.Time, stats []model.RoomStat) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if seq <= a.published {
		logger.Debugf("dropping stale leaderboard pass %d, %d already published", seq, a.published)
		return
	}
	a.published = seq
	a.current = stats
	a.computed = computed
	a.lastErr = nil

	snap := model.LeaderboardSnapshot{Rooms: stats, ComputedAt: computed}
	for _, ch := range a.subs {
		// keep only the newest snapshot in the slot
		select {
		case <-ch:
		default:
		}
		ch <- model.LeaderboardSnapshot{Rooms: slices.Clone(snap.Rooms), ComputedAt: snap.ComputedAt}
	}
}

func (a *Aggregator) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.trigger:
			_, _ = a.ComputeRankings(ctx)
		}
	}
}

// watchChanges triggers a pass on every messages or rooms row change. A lost
// feed is resubscribed on the next timer tick; the timer keeps the ranking
// fresh meanwhile.
func (a *Aggregator) watchChanges(ctx context.Context) {
	filter := model.ChangeFilter{Tables: []string{model.TableMessages, model.TableRooms}}

	for {
		feed, err := a.changes.SubscribeRowChanges(ctx, filter)
		if err != nil {
			logger.Warnf("leaderboard failed to subscribe to row changes: %v", err)
		} else {
			a.drain(ctx, feed)
			_ = feed.Close()
		}

		if ctx.Err() != nil {
			return
		}

		// wait for the next tick before trying again
		timer := a.clock.NewTimer(a.interval, tagLeaderboard, "resubscribe")
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (a *Aggregator) drain(ctx context.Context, feed notify.Feed) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-feed.Done():
			logger.Warnf("leaderboard row change feed ended: %v", feed.Err())
			return
		case <-feed.Events():
			a.Trigger()
		}
	}
}
