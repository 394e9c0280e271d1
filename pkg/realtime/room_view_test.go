package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vapor-chat/pkg/memdb"
	"vapor-chat/pkg/model"
	"vapor-chat/pkg/notify"
)

type roomFixture struct {
	db     *memdb.DB
	clock  *quartz.Mock
	client *Client
	room   *model.Room
}

func newRoomFixture(t *testing.T) *roomFixture {
	t.Helper()
	db := memdb.New()
	mClock := quartz.NewMock(t)
	client := NewClient(db, db, db, WithClock(mClock))
	t.Cleanup(client.Close)

	room, err := db.CreateRoom(context.Background(), "lobby", "hash")
	require.NoError(t, err)
	return &roomFixture{db: db, clock: mClock, client: client, room: room}
}

func (f *roomFixture) open(t *testing.T, author string) *RoomView {
	t.Helper()
	v, err := f.client.OpenRoom(context.Background(), f.room.ID, author)
	require.NoError(t, err)
	waitFor(t, v, "connected and synced", func(s Snapshot) bool {
		return s.Connection == model.StateConnected && s.Settled()
	})
	return v
}

func waitFor(t *testing.T, v *RoomView, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	var last Snapshot
	ok := assert.Eventually(t, func() bool {
		last = v.Snapshot()
		return cond(last)
	}, 5*time.Second, time.Millisecond)
	require.True(t, ok, "view never became %s, last state %+v", what, last)
	return last
}

func bodies(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Body)
	}
	return out
}

func TestPeersSeeEachOthersMessages(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)
	ana := f.open(t, "ana")
	bo := f.open(t, "bo")

	sent, err := ana.Send(ctx, "  hello there  ")
	require.NoError(t, err)
	assert.Equal(t, "hello there", sent.Body)
	assert.Equal(t, "ana", sent.UserName)

	_, err = bo.Send(ctx, "hey")
	require.NoError(t, err)

	for _, v := range []*RoomView{ana, bo} {
		snap := waitFor(t, v, "holding both messages", func(s Snapshot) bool { return len(s.Messages) == 2 })
		assert.ElementsMatch(t, []string{"hello there", "hey"}, bodies(snap.Messages))
		assert.False(t, snap.ClearPending)
	}
	assert.Equal(t, ana.Snapshot().Messages, bo.Snapshot().Messages)
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)
	v := f.open(t, "ana")

	_, err := v.Send(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	long := strings.Repeat("é", model.MaxMessageLength+1)
	_, err = v.Send(ctx, long)
	assert.ErrorIs(t, err, ErrMessageTooLong)

	_, err = v.Send(ctx, strings.Repeat("é", model.MaxMessageLength))
	assert.NoError(t, err)
}

func TestSendFailurePreservesText(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)
	v := f.open(t, "ana")

	boom := errors.New("insert rejected")
	f.db.FailNext(memdb.OpInsertMessage, boom)

	_, err := v.Send(ctx, " don't lose me ")
	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, " don't lose me ", qerr.Restore())
	assert.Empty(t, v.Snapshot().Messages)

	// the view keeps working
	_, err = v.Send(ctx, qerr.Restore())
	require.NoError(t, err)
	waitFor(t, v, "holding the retried message", func(s Snapshot) bool { return len(s.Messages) == 1 })
}

func TestConcurrentClearsCountOnce(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)
	ana := f.open(t, "ana")
	bo := f.open(t, "bo")

	for _, body := range []string{"one", "two", "three"} {
		_, err := ana.Send(ctx, body)
		require.NoError(t, err)
	}
	waitFor(t, bo, "holding three messages", func(s Snapshot) bool { return len(s.Messages) == 3 })

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, v := range []*RoomView{ana, bo} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = v.ClearHistory(ctx)
		}()
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	room, err := f.db.SelectRoom(ctx, f.room.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, room.VaporizeCount)

	for _, v := range []*RoomView{ana, bo} {
		waitFor(t, v, "empty", func(s Snapshot) bool {
			return s.Settled() && len(s.Messages) == 0 && !s.ClearPending
		})
	}
}

func TestPeerClearEmptiesView(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)
	ana := f.open(t, "ana")
	bo := f.open(t, "bo")

	var mu sync.Mutex
	var seen []model.SignalKind
	cancel := bo.OnSignal(func(ev model.BroadcastEvent) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.Kind)
	})
	defer cancel()

	_, err := bo.Send(ctx, "soon gone")
	require.NoError(t, err)
	waitFor(t, ana, "holding the message", func(s Snapshot) bool { return len(s.Messages) == 1 })

	require.NoError(t, ana.ClearHistory(ctx))
	assert.Empty(t, ana.Snapshot().Messages)

	waitFor(t, bo, "cleared", func(s Snapshot) bool {
		return s.Settled() && len(s.Messages) == 0 && !s.ClearPending
	})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 5*time.Second, time.Millisecond)
	assert.ElementsMatch(t, []model.SignalKind{model.SignalVaporizeEffect, model.SignalClearHistory}, seen)

	room, err := f.db.SelectRoom(ctx, f.room.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, room.VaporizeCount)
}

func TestClearOfEmptyRoomIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)
	v := f.open(t, "ana")

	require.NoError(t, v.ClearHistory(ctx))
	room, err := f.db.SelectRoom(ctx, f.room.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, room.VaporizeCount)
}

func TestClearSignalWithoutDeleteIsConfirmedByRefetch(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)
	v := f.open(t, "ana")

	_, err := v.Send(ctx, "still here")
	require.NoError(t, err)
	waitFor(t, v, "holding the message", func(s Snapshot) bool { return len(s.Messages) == 1 })

	// a signal whose delete never happened
	require.NoError(t, f.db.PublishBroadcast(ctx, model.BroadcastEvent{Kind: model.SignalClearHistory, RoomID: f.room.ID}))
	snap := waitFor(t, v, "clear pending", func(s Snapshot) bool { return s.ClearPending })
	assert.Len(t, snap.Messages, 1, "a signal alone must not empty the view")

	f.clock.Advance(DefaultClearConfirmDelay).MustWait(ctx)

	snap = waitFor(t, v, "confirmed", func(s Snapshot) bool { return !s.ClearPending && s.Settled() })
	assert.Equal(t, []string{"still here"}, bodies(snap.Messages))
}

func TestBaselineFailureKeepsQueuedInserts(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	boom := errors.New("statement timeout")
	var once sync.Once
	f.db.SetHook(memdb.OpSelectMessages, func(context.Context) error {
		first := false
		once.Do(func() { first = true })
		if !first {
			return nil
		}
		close(entered)
		<-release
		return boom
	})

	v, err := f.client.OpenRoom(ctx, f.room.ID, "ana")
	require.NoError(t, err)
	<-entered
	waitFor(t, v, "connected", func(s Snapshot) bool { return s.Connection == model.StateConnected })

	// land while the baseline is still out
	for _, body := range []string{"early", "bird"} {
		_, err := f.db.InsertMessage(ctx, f.room.ID, "bo", body)
		require.NoError(t, err)
	}
	waitFor(t, v, "still loading", func(s Snapshot) bool { return s.Stream == StreamLoading })
	close(release)

	snap := waitFor(t, v, "failed", func(s Snapshot) bool { return s.Stream == StreamFailed })
	var rerr *ReconciliationError
	require.ErrorAs(t, snap.Err, &rerr)
	assert.Equal(t, PhaseBaseline, rerr.Phase)
	assert.ErrorIs(t, snap.Err, boom)
	assert.False(t, snap.Settled())

	require.NoError(t, v.Resync(ctx))
	snap = waitFor(t, v, "synced", func(s Snapshot) bool { return s.Settled() })
	assert.ElementsMatch(t, []string{"early", "bird"}, bodies(snap.Messages))
	assert.Nil(t, snap.Err)
}

// heldBaseline reads storage on the first SelectMessages and then holds the
// result until released.
type heldBaseline struct {
	*memdb.DB
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (h *heldBaseline) SelectMessages(ctx context.Context, roomID uuid.UUID) ([]model.Message, error) {
	msgs, err := h.DB.SelectMessages(ctx, roomID)
	first := false
	h.once.Do(func() { first = true })
	if first {
		close(h.read)
		<-h.release
	}
	return msgs, err
}

// gatedChanges holds row subscriptions until the gate opens.
type gatedChanges struct {
	*memdb.DB
	gate chan struct{}
}

func (g *gatedChanges) SubscribeRowChanges(ctx context.Context, filter model.ChangeFilter) (notify.Feed, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.DB.SubscribeRowChanges(ctx, filter)
}

func TestMessageBetweenBaselineAndSubscriptionIsFetched(t *testing.T) {
	ctx := context.Background()
	db := memdb.New()
	room, err := db.CreateRoom(ctx, "lobby", "hash")
	require.NoError(t, err)

	store := &heldBaseline{DB: db, read: make(chan struct{}), release: make(chan struct{})}
	changes := &gatedChanges{DB: db, gate: make(chan struct{})}
	client := NewClient(store, changes, db, WithClock(quartz.NewMock(t)))
	t.Cleanup(client.Close)

	v, err := client.OpenRoom(ctx, room.ID, "ana")
	require.NoError(t, err)
	updates, cancel := v.Subscribe()
	defer cancel()

	// the baseline has read an empty room, the subscription is not up yet
	<-store.read
	_, err = db.InsertMessage(ctx, room.ID, "bo", "in the gap")
	require.NoError(t, err)
	close(changes.gate)

	// wait until the loop has handled the connect before the baseline returns
	require.Eventually(t, func() bool {
		select {
		case snap, ok := <-updates:
			return ok && snap.Connection == model.StateConnected
		default:
			return false
		}
	}, 5*time.Second, time.Millisecond)
	close(store.release)

	snap := waitFor(t, v, "synced", func(s Snapshot) bool {
		return s.Settled() && s.Connection == model.StateConnected
	})
	assert.Equal(t, []string{"in the gap"}, bodies(snap.Messages))
}

func TestResyncReconnectsAfterTransportError(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)
	v := f.open(t, "ana")

	reset := errors.New("connection reset")
	f.db.DropSubscriptions(reset)

	snap := waitFor(t, v, "errored", func(s Snapshot) bool { return s.Connection == model.StateError })
	require.NotNil(t, snap.Failure)
	assert.Equal(t, model.FailureError, snap.Failure.Reason)
	assert.True(t, snap.Failure.Connected)
	assert.ErrorIs(t, snap.Failure, reset)

	// missed while disconnected
	_, err := f.db.InsertMessage(ctx, f.room.ID, "bo", "missed")
	require.NoError(t, err)

	require.NoError(t, v.Resync(ctx))
	snap = waitFor(t, v, "reconnected", func(s Snapshot) bool {
		return s.Connection == model.StateConnected && s.Settled() && len(s.Messages) == 1
	})
	assert.Nil(t, snap.Failure)

	// live again
	_, err = f.db.InsertMessage(ctx, f.room.ID, "bo", "live")
	require.NoError(t, err)
	waitFor(t, v, "holding the live message", func(s Snapshot) bool { return len(s.Messages) == 2 })
	assert.Equal(t, 2, f.db.Subscribers())
}

func TestCloseCancelsBaselineAndReleasesSubscriptions(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)

	entered := make(chan struct{})
	cancelled := make(chan struct{})
	f.db.SetHook(memdb.OpSelectMessages, func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	v, err := f.client.OpenRoom(ctx, f.room.ID, "ana")
	require.NoError(t, err)
	updates, _ := v.Subscribe()
	<-entered

	v.Close()
	v.Close()

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("baseline fetch was not cancelled")
	}
	<-v.Done()
	assert.Eventually(t, func() bool { return f.db.Subscribers() == 0 }, 5*time.Second, time.Millisecond)

	for range updates {
	}
	_, err = v.Send(ctx, "too late")
	assert.ErrorIs(t, err, ErrViewClosed)
	assert.ErrorIs(t, v.ClearHistory(ctx), ErrViewClosed)
}

func TestLeaveWipesRoomForEveryone(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)
	ana := f.open(t, "ana")
	bo := f.open(t, "bo")

	_, err := bo.Send(ctx, "bye")
	require.NoError(t, err)
	waitFor(t, ana, "holding the message", func(s Snapshot) bool { return len(s.Messages) == 1 })

	require.NoError(t, ana.Leave(ctx))
	<-ana.Done()

	waitFor(t, bo, "wiped", func(s Snapshot) bool { return s.Settled() && len(s.Messages) == 0 })
	assert.Equal(t, model.StateConnected, bo.Snapshot().Connection)
}

func TestSubscribeDeliversLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture(t)
	v := f.open(t, "ana")

	updates, cancel := v.Subscribe()
	defer cancel()

	first := <-updates
	assert.Equal(t, f.room.ID, first.Room.ID)
	assert.Equal(t, "ana", first.Author)

	_, err := v.Send(ctx, "ping")
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-updates:
			if len(snap.Messages) == 1 {
				assert.Equal(t, "ping", snap.Messages[0].Body)
				return
			}
		case <-deadline:
			t.Fatal("never saw the sent message")
		}
	}
}

func TestOpenUnknownRoom(t *testing.T) {
	f := newRoomFixture(t)

	_, err := f.client.OpenRoom(context.Background(), uuid.New(), "ana")
	assert.ErrorIs(t, err, model.ErrRoomNotFound)

	boom := errors.New("db down")
	f.db.FailNext(memdb.OpSelectRoom, boom)
	_, err = f.client.OpenRoom(context.Background(), f.room.ID, "ana")
	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.ErrorIs(t, err, boom)
}

func TestClientCloseClosesViews(t *testing.T) {
	f := newRoomFixture(t)
	ana := f.open(t, "ana")
	bo := f.open(t, "bo")

	f.client.Close()
	<-ana.Done()
	<-bo.Done()

	_, err := f.client.OpenRoom(context.Background(), f.room.ID, "cy")
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return f.db.Subscribers() == 0 }, 5*time.Second, time.Millisecond)
}
