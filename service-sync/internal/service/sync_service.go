package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vapor-chat/pkg/logger"
	"vapor-chat/pkg/model"
	"vapor-chat/pkg/realtime"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWriteTimeout = 10 * time.Second
	sessionBuffer       = 32
)

// websocket error codes
const (
	CodeInvalidCommand = "INVALID_COMMAND"
	CodeEmptyMessage   = "EMPTY_MESSAGE"
	CodeMessageTooLong = "MESSAGE_TOO_LONG"
	CodeRoomNotFound   = "ROOM_NOT_FOUND"
	CodeViewClosed     = "VIEW_CLOSED"
	CodeSendFailed     = "SEND_FAILED"
	CodeClearFailed    = "CLEAR_FAILED"
	CodeLeaveFailed    = "LEAVE_FAILED"
	CodeResyncFailed   = "RESYNC_FAILED"
)

// SyncService defines the interface for room session operations
type SyncService interface {
	// OpenRoom opens a live view of the room for one participant
	OpenRoom(ctx context.Context, roomID uuid.UUID, displayName string) (*realtime.RoomView, error)
	// HandleConnection serves a websocket client until it leaves or disconnects.
	// The view is closed on return.
	HandleConnection(ctx context.Context, view *realtime.RoomView, conn *websocket.Conn) error
	GetRoom(ctx context.Context, roomID uuid.UUID) (*model.Room, error)
}

type syncService struct {
	client       *realtime.Client
	store        realtime.Store
	writeTimeout time.Duration
}

// NewSyncService creates a new sync service instance
func NewSyncService(client *realtime.Client, store realtime.Store) SyncService {
	return &syncService{
		client:       client,
		store:        store,
		writeTimeout: defaultWriteTimeout,
	}
}

func (s *syncService) OpenRoom(ctx context.Context, roomID uuid.UUID, displayName string) (*realtime.RoomView, error) {
	view, err := s.client.OpenRoom(ctx, roomID, displayName)
	if err != nil {
		return nil, fmt.Errorf("failed to open room %s: %w", roomID, err)
	}
	return view, nil
}

func (s *syncService) GetRoom(ctx context.Context, roomID uuid.UUID) (*model.Room, error) {
	room, err := s.store.SelectRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return room, nil
}

// HandleConnection handles a websocket connection bound to an open view
func (s *syncService) HandleConnection(ctx context.Context, view *realtime.RoomView, conn *websocket.Conn) error {
	defer view.Close()

	snap := view.Snapshot()
	logger.Infof("%q joined room %s", snap.Author, view.RoomID())

	sess := &session{
		view:         view,
		conn:         conn,
		writeTimeout: s.writeTimeout,
		out:          make(chan *model.WebSocketMessage, sessionBuffer),
		signals:      make(chan model.BroadcastEvent, sessionBuffer),
	}

	updates, unsubscribe := view.Subscribe()
	defer unsubscribe()

	stopSignals := view.OnSignal(func(ev model.BroadcastEvent) {
		// runs on the view loop, never block it
		select {
		case sess.signals <- ev:
		default:
			logger.Debugf("dropping %s signal for slow client in room %s", ev.Kind, ev.RoomID)
		}
	})
	defer stopSignals()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.writeLoop(gctx, updates)
	})
	g.Go(func() error {
		return sess.readLoop(gctx)
	})

	err := g.Wait()
	logger.Infof("%q left room %s", snap.Author, view.RoomID())
	return err
}

// session is one websocket client attached to one room view. Only the write
// loop writes to the connection.
type session struct {
	view         *realtime.RoomView
	conn         *websocket.Conn
	writeTimeout time.Duration

	out     chan *model.WebSocketMessage
	signals chan model.BroadcastEvent

	misconfigReported bool
}

func (s *session) writeLoop(ctx context.Context, updates <-chan realtime.Snapshot) error {
	// closing the connection unblocks the read loop
	defer s.conn.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-updates:
			if !ok {
				_ = s.send(&model.WebSocketMessage{Type: model.MessageTypeClosed})
				return nil
			}
			s.reportMisconfiguration(snap)
			if err := s.send(&model.WebSocketMessage{Type: model.MessageTypeState, Payload: StatePayload(snap)}); err != nil {
				return err
			}
		case ev := <-s.signals:
			if err := s.send(&model.WebSocketMessage{Type: model.MessageTypeSignal, Payload: ev}); err != nil {
				return err
			}
		case msg := <-s.out:
			if err := s.send(msg); err != nil {
				return err
			}
		}
	}
}

func (s *session) send(msg *model.WebSocketMessage) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	err := s.conn.WriteJSON(msg)
	if err != nil {
		return fmt.Errorf("failed to write %s frame: %w", msg.Type, err)
	}
	return nil
}

func (s *session) readLoop(ctx context.Context) error {
	for {
		var cmd model.ClientCommand
		err := s.conn.ReadJSON(&cmd)
		if err != nil {
			if s.viewClosed() || ctx.Err() != nil {
				return nil
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf(err, "websocket error in room %s", s.view.RoomID())
			}
			// the client is gone; a plain return tears the view down
			return nil
		}

		s.processCommand(ctx, &cmd)
	}
}

func (s *session) processCommand(ctx context.Context, cmd *model.ClientCommand) {
	switch cmd.Type {
	case model.CommandSend:
		if _, err := s.view.Send(ctx, cmd.Body); err != nil {
			s.replyError(ctx, CodeSendFailed, err)
		}
	case model.CommandClearHistory:
		if err := s.view.ClearHistory(ctx); err != nil {
			s.replyError(ctx, CodeClearFailed, err)
		}
	case model.CommandLeave:
		if err := s.view.Leave(ctx); err != nil {
			s.replyError(ctx, CodeLeaveFailed, err)
		}
	case model.CommandResync:
		if err := s.view.Resync(ctx); err != nil {
			s.replyError(ctx, CodeResyncFailed, err)
		}
	default:
		s.reply(ctx, errorFrame(CodeInvalidCommand, fmt.Sprintf("unknown command %q", cmd.Type), ""))
	}
}

func (s *session) replyError(ctx context.Context, fallback string, err error) {
	logger.Warnf("room %s command failed: %v", s.view.RoomID(), err)

	var restore string
	var qerr *realtime.QueryError
	if errors.As(err, &qerr) {
		restore = qerr.Restore()
	}
	s.reply(ctx, errorFrame(ErrorCode(err, fallback), err.Error(), restore))
}

func (s *session) reply(ctx context.Context, msg *model.WebSocketMessage) {
	select {
	case s.out <- msg:
	case <-ctx.Done():
	}
}

func (s *session) viewClosed() bool {
	select {
	case <-s.view.Done():
		return true
	default:
		return false
	}
}

// reportMisconfiguration logs once per session when the subscription closed
// before it ever connected, which points at setup rather than the network.
func (s *session) reportMisconfiguration(snap realtime.Snapshot) {
	if s.misconfigReported || snap.Failure == nil || !snap.Failure.Misconfigured() {
		return
	}
	s.misconfigReported = true
	logger.Errorf(snap.Failure, "realtime subscription for room %s closed before connecting, check the row_changes triggers and the redis broadcast bus", snap.Room.ID)
}

// ErrorCode maps a room view error to a websocket error code.
func ErrorCode(err error, fallback string) string {
	switch {
	case errors.Is(err, realtime.ErrEmptyMessage):
		return CodeEmptyMessage
	case errors.Is(err, realtime.ErrMessageTooLong):
		return CodeMessageTooLong
	case errors.Is(err, model.ErrRoomNotFound):
		return CodeRoomNotFound
	case errors.Is(err, realtime.ErrViewClosed):
		return CodeViewClosed
	default:
		return fallback
	}
}

// StatePayload converts a view snapshot to its wire form.
func StatePayload(snap realtime.Snapshot) *model.RoomStatePayload {
	payload := &model.RoomStatePayload{
		Room:         snap.Room,
		Author:       snap.Author,
		Connection:   snap.Connection,
		Stream:       string(snap.Stream),
		Settled:      snap.Settled(),
		ClearPending: snap.ClearPending,
		Messages:     snap.Messages,
	}
	if payload.Messages == nil {
		payload.Messages = []model.Message{}
	}
	if snap.Failure != nil {
		payload.Failure = &model.FailureInfo{
			Reason:        snap.Failure.Reason,
			Connected:     snap.Failure.Connected,
			Misconfigured: snap.Failure.Misconfigured(),
			Message:       snap.Failure.Error(),
		}
	}
	if snap.Err != nil {
		payload.Error = snap.Err.Error()
	}
	return payload
}

func errorFrame(code, message, restore string) *model.WebSocketMessage {
	return &model.WebSocketMessage{
		Type: model.MessageTypeError,
		Payload: &model.ErrorMessage{
			Code:    code,
			Message: message,
			Restore: restore,
		},
	}
}
