package memdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vapor-chat/pkg/model"
	"vapor-chat/pkg/notify"
)

func nextEvent(t *testing.T, feed notify.Feed) notify.Event {
	t.Helper()
	select {
	case ev := <-feed.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
		return notify.Event{}
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	db := New(WithClock(mClock))

	room, err := db.CreateRoom(ctx, "lobby", "hash")
	require.NoError(t, err)

	_, err = db.CreateRoom(ctx, "LOBBY", "hash")
	assert.ErrorIs(t, err, model.ErrRoomExists)

	first, err := db.InsertMessage(ctx, room.ID, "ana", "hi")
	require.NoError(t, err)
	mClock.Advance(time.Second).MustWait(ctx)
	second, err := db.InsertMessage(ctx, room.ID, "bo", "hey")
	require.NoError(t, err)

	msgs, err := db.SelectMessages(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, first.ID, msgs[0].ID)
	assert.Equal(t, second.ID, msgs[1].ID)

	latest, err := db.SelectLatestMessageTimes(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.CreatedAt, latest[room.ID])

	since, err := db.SelectMessagesSince(ctx, second.CreatedAt)
	require.NoError(t, err)
	require.Len(t, since, 1)

	n, err := db.DeleteMessages(ctx, room.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = db.DeleteMessages(ctx, room.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	count, err := db.IncrementVaporizeCount(ctx, room.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	byName, err := db.GetRoomByName(ctx, "lobby")
	require.NoError(t, err)
	assert.EqualValues(t, 1, byName.VaporizeCount)

	_, err = db.SelectRoom(ctx, uuid.New())
	assert.ErrorIs(t, err, model.ErrRoomNotFound)
	_, err = db.InsertMessage(ctx, uuid.New(), "ana", "nope")
	assert.ErrorIs(t, err, model.ErrRoomNotFound)
}

func TestRowChangeNotifications(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	db := New()

	room, err := db.CreateRoom(ctx, "lobby", "hash")
	require.NoError(t, err)
	other, err := db.CreateRoom(ctx, "other", "hash")
	require.NoError(t, err)

	feed, err := db.SubscribeRowChanges(ctx, model.ChangeFilter{Tables: []string{model.TableMessages}, RoomID: room.ID})
	require.NoError(t, err)
	<-feed.Ready()

	_, err = db.InsertMessage(ctx, other.ID, "ana", "elsewhere")
	require.NoError(t, err)
	msg, err := db.InsertMessage(ctx, room.ID, "ana", "hi")
	require.NoError(t, err)

	ev := nextEvent(t, feed)
	require.NotNil(t, ev.Change)
	assert.Equal(t, model.ChangeInsert, ev.Change.Kind)
	assert.Equal(t, msg.ID, ev.Change.Message.ID)

	_, err = db.InsertMessage(ctx, room.ID, "bo", "again")
	require.NoError(t, err)
	_ = nextEvent(t, feed)

	// one notification per delete statement, not per row
	_, err = db.DeleteMessages(ctx, room.ID)
	require.NoError(t, err)
	ev = nextEvent(t, feed)
	assert.Equal(t, model.ChangeDelete, ev.Change.Kind)
	assert.Equal(t, room.ID, ev.Change.RoomID)

	select {
	case ev := <-feed.Events():
		t.Fatalf("unexpected notification %+v", ev.Change)
	default:
	}

	cancel()
	<-feed.Done()
	assert.ErrorIs(t, feed.Err(), notify.ErrClosed)
	assert.Eventually(t, func() bool { return db.Subscribers() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestRoomChangesCarryVaporizeCount(t *testing.T) {
	ctx := context.Background()
	db := New()
	room, err := db.CreateRoom(ctx, "lobby", "hash")
	require.NoError(t, err)

	feed, err := db.SubscribeRowChanges(ctx, model.ChangeFilter{Tables: []string{model.TableRooms}})
	require.NoError(t, err)
	defer feed.Close()

	_, err = db.IncrementVaporizeCount(ctx, room.ID)
	require.NoError(t, err)

	ev := nextEvent(t, feed)
	require.NotNil(t, ev.Change.Room)
	assert.Equal(t, model.ChangeUpdate, ev.Change.Kind)
	assert.EqualValues(t, 1, ev.Change.Room.VaporizeCount)
}

func TestBroadcastFanOut(t *testing.T) {
	ctx := context.Background()
	db := New()
	roomID := uuid.New()

	a, err := db.SubscribeBroadcast(ctx, roomID)
	require.NoError(t, err)
	defer a.Close()
	b, err := db.SubscribeBroadcast(ctx, roomID)
	require.NoError(t, err)
	elsewhere, err := db.SubscribeBroadcast(ctx, uuid.New())
	require.NoError(t, err)
	defer elsewhere.Close()

	require.NoError(t, db.PublishBroadcast(ctx, model.BroadcastEvent{Kind: model.SignalClearHistory, RoomID: roomID}))

	for _, feed := range []notify.Feed{a, b} {
		ev := nextEvent(t, feed)
		require.NotNil(t, ev.Signal)
		assert.Equal(t, model.SignalClearHistory, ev.Signal.Kind)
	}
	select {
	case <-elsewhere.Events():
		t.Fatal("signal leaked to another room")
	default:
	}

	require.NoError(t, b.Close())
	assert.Equal(t, 2, db.Subscribers())
}

func TestSlowSubscriberIsCut(t *testing.T) {
	ctx := context.Background()
	db := New(WithBuffer(1))
	room, err := db.CreateRoom(ctx, "lobby", "hash")
	require.NoError(t, err)

	feed, err := db.SubscribeRowChanges(ctx, model.ChangeFilter{RoomID: room.ID})
	require.NoError(t, err)

	_, err = db.InsertMessage(ctx, room.ID, "ana", "one")
	require.NoError(t, err)
	_, err = db.InsertMessage(ctx, room.ID, "ana", "two")
	require.NoError(t, err)

	<-feed.Done()
	assert.ErrorIs(t, feed.Err(), notify.ErrSlowConsumer)
	assert.Equal(t, 0, db.Subscribers())
}

func TestHooks(t *testing.T) {
	ctx := context.Background()
	db := New()
	boom := errors.New("boom")

	room, err := db.CreateRoom(ctx, "lobby", "hash")
	require.NoError(t, err)

	db.FailNext(OpSelectMessages, boom)
	_, err = db.SelectMessages(ctx, room.ID)
	assert.ErrorIs(t, err, boom)
	_, err = db.SelectMessages(ctx, room.ID)
	assert.NoError(t, err)

	db.SetHook(OpPublishBroadcast, func(context.Context) error { return boom })
	assert.ErrorIs(t, db.PublishBroadcast(ctx, model.BroadcastEvent{RoomID: room.ID}), boom)
	db.SetHook(OpPublishBroadcast, nil)
	assert.NoError(t, db.PublishBroadcast(ctx, model.BroadcastEvent{RoomID: room.ID}))

	db.DropSubscriptions(boom)
}
