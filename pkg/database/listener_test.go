package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vapor-chat/pkg/model"
	"vapor-chat/pkg/notify"
)

func TestDecodeRowChange(t *testing.T) {
	roomID := uuid.New()
	msgID := uuid.New()

	tests := []struct {
		name    string
		payload string
		want    *model.RowChange
		wantErr bool
	}{
		{
			name: "message insert",
			payload: fmt.Sprintf(`{"table":"messages","kind":"INSERT","room_id":"%s","message":{"id":"%s","room_id":"%s","user_name":"ana","message":"hi","created_at":"2026-10-16T10:00:00.123456+00:00"}}`,
				roomID, msgID, roomID),
			want: &model.RowChange{
				Table:  model.TableMessages,
				Kind:   model.ChangeInsert,
				RoomID: roomID,
				Message: &model.Message{
					ID:        msgID,
					RoomID:    roomID,
					UserName:  "ana",
					Body:      "hi",
					CreatedAt: time.Date(2026, 10, 16, 10, 0, 0, 123456000, time.FixedZone("", 0)),
				},
			},
		},
		{
			name:    "statement level delete",
			payload: fmt.Sprintf(`{"table":"messages","kind":"DELETE","room_id":"%s"}`, roomID),
			want:    &model.RowChange{Table: model.TableMessages, Kind: model.ChangeDelete, RoomID: roomID},
		},
		{
			name:    "room update",
			payload: fmt.Sprintf(`{"table":"rooms","kind":"UPDATE","room_id":"%s","room":{"id":"%s","name":"lobby","vaporize_count":3,"created_at":"2026-10-16T10:00:00+00:00"}}`, roomID, roomID),
			want: &model.RowChange{
				Table:  model.TableRooms,
				Kind:   model.ChangeUpdate,
				RoomID: roomID,
				Room: &model.Room{
					ID:            roomID,
					Name:          "lobby",
					VaporizeCount: 3,
					CreatedAt:     time.Date(2026, 10, 16, 10, 0, 0, 0, time.FixedZone("", 0)),
				},
			},
		},
		{name: "garbage", payload: `not json`, wantErr: true},
		{name: "unknown table", payload: fmt.Sprintf(`{"table":"users","kind":"INSERT","room_id":"%s"}`, roomID), wantErr: true},
		{name: "unknown kind", payload: fmt.Sprintf(`{"table":"messages","kind":"TRUNCATE","room_id":"%s"}`, roomID), wantErr: true},
		{name: "missing room", payload: `{"table":"messages","kind":"DELETE"}`, wantErr: true},
		{name: "insert without row", payload: fmt.Sprintf(`{"table":"messages","kind":"INSERT","room_id":"%s"}`, roomID), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeRowChange(tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want.Table, got.Table)
			require.Equal(t, tt.want.Kind, got.Kind)
			require.Equal(t, tt.want.RoomID, got.RoomID)
			if tt.want.Message != nil {
				require.NotNil(t, got.Message)
				assert.True(t, tt.want.Message.CreatedAt.Equal(got.Message.CreatedAt))
				got.Message.CreatedAt = tt.want.Message.CreatedAt
				assert.Equal(t, tt.want.Message, got.Message)
			}
			if tt.want.Room != nil {
				require.NotNil(t, got.Room)
				assert.True(t, tt.want.Room.CreatedAt.Equal(got.Room.CreatedAt))
				assert.Equal(t, tt.want.Room.VaporizeCount, got.Room.VaporizeCount)
			}
		})
	}
}

func nextChange(t *testing.T, feed notify.Feed) *model.RowChange {
	t.Helper()
	select {
	case ev := <-feed.Events():
		return ev.Change
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for row change")
		return nil
	}
}

func TestChangeListenerDispatch(t *testing.T) {
	ctx := context.Background()
	notifications := make(chan *pq.Notification)
	l := newChangeListener(notifications, 8)
	l.setConnected(true)
	defer l.Close()

	roomID := uuid.New()
	feed, err := l.SubscribeRowChanges(ctx, model.ChangeFilter{Tables: []string{model.TableMessages}, RoomID: roomID})
	require.NoError(t, err)
	<-feed.Ready()

	notifications <- &pq.Notification{Channel: RowChangesChannel, Extra: `{"table":"messages","kind":"DELETE","room_id":"` + uuid.NewString() + `"}`}
	notifications <- &pq.Notification{Channel: RowChangesChannel, Extra: `garbage`}
	notifications <- &pq.Notification{Channel: RowChangesChannel, Extra: `{"table":"messages","kind":"DELETE","room_id":"` + roomID.String() + `"}`}

	change := nextChange(t, feed)
	assert.Equal(t, model.ChangeDelete, change.Kind)
	assert.Equal(t, roomID, change.RoomID)
}

func TestChangeListenerReconnectEndsSubscriptions(t *testing.T) {
	ctx := context.Background()
	notifications := make(chan *pq.Notification)
	l := newChangeListener(notifications, 8)
	l.setConnected(true)
	defer l.Close()

	feed, err := l.SubscribeRowChanges(ctx, model.ChangeFilter{})
	require.NoError(t, err)

	notifications <- nil
	<-feed.Done()
	assert.ErrorIs(t, feed.Err(), ErrConnectionLost)
	assert.Eventually(t, func() bool { return l.Subscribers() == 0 }, 5*time.Second, time.Millisecond)
}

func TestChangeListenerReadyFollowsConnection(t *testing.T) {
	ctx := context.Background()
	l := newChangeListener(make(chan *pq.Notification), 8)
	defer l.Close()

	l.handleEvent(pq.ListenerEventDisconnected, nil)
	feed, err := l.SubscribeRowChanges(ctx, model.ChangeFilter{})
	require.NoError(t, err)

	select {
	case <-feed.Ready():
		t.Fatal("ready while disconnected")
	default:
	}

	l.handleEvent(pq.ListenerEventReconnected, nil)
	select {
	case <-feed.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("never became ready")
	}
}

func TestChangeListenerClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := newChangeListener(make(chan *pq.Notification), 8)
	l.setConnected(true)

	byCtx, err := l.SubscribeRowChanges(ctx, model.ChangeFilter{})
	require.NoError(t, err)
	cancel()
	<-byCtx.Done()
	assert.ErrorIs(t, byCtx.Err(), notify.ErrClosed)

	open, err := l.SubscribeRowChanges(context.Background(), model.ChangeFilter{})
	require.NoError(t, err)
	require.NoError(t, l.Close())
	<-open.Done()

	_, err = l.SubscribeRowChanges(context.Background(), model.ChangeFilter{})
	assert.ErrorIs(t, err, notify.ErrClosed)
}
