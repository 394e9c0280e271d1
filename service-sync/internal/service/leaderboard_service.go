package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"vapor-chat/pkg/logger"
	"vapor-chat/pkg/model"
	"vapor-chat/pkg/realtime"
	"vapor-chat/pkg/storage"

	"github.com/gorilla/websocket"
)

const (
	defaultSnapshotKey = "leaderboard/latest.json"
	snapshotTimeout    = 10 * time.Second
)

// LeaderboardService keeps the room ranking current and serves it
type LeaderboardService interface {
	Start(ctx context.Context) error
	Current() *model.LeaderboardPayload
	// Stream pushes every new ranking to the websocket until it disconnects
	Stream(ctx context.Context, conn *websocket.Conn) error
	Close() error
}

type leaderboardService struct {
	aggregator   *realtime.Aggregator
	snapshots    storage.Provider
	snapshotKey  string
	writeTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLeaderboardService creates a leaderboard service. A nil provider skips
// snapshot persistence.
func NewLeaderboardService(aggregator *realtime.Aggregator, snapshots storage.Provider, snapshotKey string) LeaderboardService {
	if snapshotKey == "" {
		snapshotKey = defaultSnapshotKey
	}
	return &leaderboardService{
		aggregator:   aggregator,
		snapshots:    snapshots,
		snapshotKey:  snapshotKey,
		writeTimeout: defaultWriteTimeout,
	}
}

func (s *leaderboardService) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.snapshots != nil {
		updates, unsubscribe := s.aggregator.Subscribe()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer unsubscribe()
			s.persistSnapshots(ctx, updates)
		}()
	}

	if err := s.aggregator.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start leaderboard: %w", err)
	}
	logger.Info("leaderboard aggregator started")
	return nil
}

func (s *leaderboardService) Current() *model.LeaderboardPayload {
	payload := &model.LeaderboardPayload{LeaderboardSnapshot: s.aggregator.Snapshot()}
	if payload.Rooms == nil {
		payload.Rooms = []model.RoomStat{}
	}
	if err := s.aggregator.Err(); err != nil {
		payload.Error = err.Error()
	}
	return payload
}

func (s *leaderboardService) Stream(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	updates, unsubscribe := s.aggregator.Subscribe()
	defer unsubscribe()

	// the stream is one way, reading only notices the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.write(conn, s.Current()); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			payload := &model.LeaderboardPayload{LeaderboardSnapshot: snap}
			if err := s.write(conn, payload); err != nil {
				return err
			}
		}
	}
}

func (s *leaderboardService) write(conn *websocket.Conn, payload *model.LeaderboardPayload) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	err := conn.WriteJSON(&model.WebSocketMessage{Type: model.MessageTypeLeaderboard, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to write leaderboard frame: %w", err)
	}
	return nil
}

func (s *leaderboardService) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	err := s.aggregator.Close()
	s.wg.Wait()
	return err
}

// persistSnapshots writes each published ranking to storage. Failures are
// logged and the next ranking overwrites the key anyway.
func (s *leaderboardService) persistSnapshots(ctx context.Context, updates <-chan model.LeaderboardSnapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := s.persist(ctx, snap); err != nil {
				logger.Error(err, "failed to persist leaderboard snapshot")
			}
		}
	}
}

func (s *leaderboardService) persist(ctx context.Context, snap model.LeaderboardSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal leaderboard snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	return s.snapshots.Put(ctx, s.snapshotKey, "application/json", data)
}
