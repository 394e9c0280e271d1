package room

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"vapor-chat/pkg/model"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Repository defines the room repository interface
type Repository interface {
	CreateRoom(ctx context.Context, name, secretHash string) (*model.Room, error)
	GetRoomByName(ctx context.Context, name string) (*model.Room, error)
	SelectRoom(ctx context.Context, roomID uuid.UUID) (*model.Room, error)
}

// repository implements the room repository
type repository struct {
	db *sql.DB
}

// NewRepository creates a new room repository
func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// CreateRoom inserts a room; names are unique regardless of case
func (r *repository) CreateRoom(ctx context.Context, name, secretHash string) (*model.Room, error) {
	room := &model.Room{
		ID:         uuid.New(),
		Name:       name,
		SecretHash: secretHash,
	}

	query := `
		INSERT INTO rooms (id, name, password_hash)
		VALUES ($1, $2, $3)
		RETURNING vaporize_count, created_at`

	err := r.db.QueryRowContext(ctx, query, room.ID, room.Name, room.SecretHash).
		Scan(&room.VaporizeCount, &room.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, model.ErrRoomExists
		}
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	return room, nil
}

// GetRoomByName retrieves a room by case-insensitive name
func (r *repository) GetRoomByName(ctx context.Context, name string) (*model.Room, error) {
	query := `
		SELECT id, name, password_hash, vaporize_count, created_at
		FROM rooms
		WHERE LOWER(name) = LOWER($1)`

	return r.scanRoom(r.db.QueryRowContext(ctx, query, name))
}

// SelectRoom retrieves a room by ID
func (r *repository) SelectRoom(ctx context.Context, roomID uuid.UUID) (*model.Room, error) {
	query := `
		SELECT id, name, password_hash, vaporize_count, created_at
		FROM rooms
		WHERE id = $1`

	return r.scanRoom(r.db.QueryRowContext(ctx, query, roomID))
}

func (r *repository) scanRoom(row *sql.Row) (*model.Room, error) {
	var room model.Room
	err := row.Scan(&room.ID, &room.Name, &room.SecretHash, &room.VaporizeCount, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return &room, nil
}
