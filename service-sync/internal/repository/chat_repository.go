package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vapor-chat/pkg/model"
	"vapor-chat/pkg/realtime"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// foreign_key_violation
const pqForeignKeyViolation = "23503"

// ChatRepository handles rooms and messages in Postgres
type ChatRepository interface {
	realtime.Store
	realtime.StatsSource
}

type chatRepository struct {
	db *sql.DB
}

// NewChatRepository creates a new chat repository instance
func NewChatRepository(db *sql.DB) ChatRepository {
	return &chatRepository{db: db}
}

// SelectRoom retrieves a room by ID
func (r *chatRepository) SelectRoom(ctx context.Context, roomID uuid.UUID) (*model.Room, error) {
	var room model.Room
	query := `SELECT id, name, password_hash, vaporize_count, created_at FROM rooms WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, roomID)
	err := row.Scan(&room.ID, &room.Name, &room.SecretHash, &room.VaporizeCount, &room.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select room: %w", err)
	}

	return &room, nil
}

// SelectRooms lists every room
func (r *chatRepository) SelectRooms(ctx context.Context) ([]model.Room, error) {
	query := `SELECT id, name, vaporize_count, created_at FROM rooms ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select rooms: %w", err)
	}
	defer rows.Close()

	var rooms []model.Room
	for rows.Next() {
		var room model.Room
		err := rows.Scan(&room.ID, &room.Name, &room.VaporizeCount, &room.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

// SelectMessages returns the full log of a room in display order
func (r *chatRepository) SelectMessages(ctx context.Context, roomID uuid.UUID) ([]model.Message, error) {
	query := `
		SELECT id, room_id, user_name, message, created_at
		FROM messages
		WHERE room_id = $1
		ORDER BY created_at, id`

	return r.queryMessages(ctx, query, roomID)
}

// SelectMessagesSince returns messages of every room created at or after since
func (r *chatRepository) SelectMessagesSince(ctx context.Context, since time.Time) ([]model.Message, error) {
	query := `
		SELECT id, room_id, user_name, message, created_at
		FROM messages
		WHERE created_at >= $1
		ORDER BY created_at, id`

	return r.queryMessages(ctx, query, since)
}

// SelectLatestMessageTimes returns the newest message time per room
func (r *chatRepository) SelectLatestMessageTimes(ctx context.Context) (map[uuid.UUID]time.Time, error) {
	query := `SELECT room_id, MAX(created_at) FROM messages GROUP BY room_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select latest message times: %w", err)
	}
	defer rows.Close()

	latest := make(map[uuid.UUID]time.Time)
	for rows.Next() {
		var roomID uuid.UUID
		var at time.Time
		if err := rows.Scan(&roomID, &at); err != nil {
			return nil, fmt.Errorf("failed to scan latest message time: %w", err)
		}
		latest[roomID] = at
	}

	return latest, rows.Err()
}

// InsertMessage stores a message; the database assigns created_at
func (r *chatRepository) InsertMessage(ctx context.Context, roomID uuid.UUID, author, body string) (*model.Message, error) {
	msg := &model.Message{
		ID:       uuid.New(),
		RoomID:   roomID,
		UserName: author,
		Body:     body,
	}
	query := `
		INSERT INTO messages (id, room_id, user_name, message, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query, msg.ID, msg.RoomID, msg.UserName, msg.Body).Scan(&msg.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
			return nil, model.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	return msg, nil
}

// DeleteMessages wipes the room history in one statement
func (r *chatRepository) DeleteMessages(ctx context.Context, roomID uuid.UUID) (int64, error) {
	query := `DELETE FROM messages WHERE room_id = $1`

	result, err := r.db.ExecContext(ctx, query, roomID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted messages: %w", err)
	}
	return n, nil
}

// IncrementVaporizeCount bumps the counter in place so concurrent clears never lose an update
func (r *chatRepository) IncrementVaporizeCount(ctx context.Context, roomID uuid.UUID) (int64, error) {
	var count int64
	query := `UPDATE rooms SET vaporize_count = vaporize_count + 1 WHERE id = $1 RETURNING vaporize_count`

	err := r.db.QueryRowContext(ctx, query, roomID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, model.ErrRoomNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment vaporize count: %w", err)
	}

	return count, nil
}

func (r *chatRepository) queryMessages(ctx context.Context, query string, args ...interface{}) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select messages: %w", err)
	}
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		var m model.Message
		err := rows.Scan(&m.ID, &m.RoomID, &m.UserName, &m.Body, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}

	return msgs, rows.Err()
}
