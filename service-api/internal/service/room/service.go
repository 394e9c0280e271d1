package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"vapor-chat/pkg/auth"
	"vapor-chat/pkg/logger"
	"vapor-chat/pkg/model"
	roomRepo "vapor-chat/service-api/internal/repository/room"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidPassword = errors.New("invalid room password")
	ErrInvalidName     = errors.New("invalid room or display name")
)

const maxNameLength = 64

// Service provides room lobby operations.
type Service struct {
	roomRepo roomRepo.Repository
	tokens   *auth.RoomTokenManager
	cost     int
}

// NewService creates a new room service instance.
func NewService(roomRepo roomRepo.Repository, tokens *auth.RoomTokenManager) *Service {
	return &Service{
		roomRepo: roomRepo,
		tokens:   tokens,
		cost:     bcrypt.DefaultCost,
	}
}

// CreateRoom creates a room guarded by password and admits its creator
func (s *Service) CreateRoom(ctx context.Context, req *model.CreateRoomRequest) (*model.RoomAccessResponse, error) {
	name, displayName, err := normalizeNames(req.Name, req.DisplayName)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash room password: %w", err)
	}

	room, err := s.roomRepo.CreateRoom(ctx, name, string(hash))
	if err != nil {
		if errors.Is(err, model.ErrRoomExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	logger.Infof("room %q created by %q", room.Name, displayName)
	return s.admit(room, displayName)
}

// JoinRoom admits displayName to the room called name when password matches
func (s *Service) JoinRoom(ctx context.Context, req *model.JoinRoomRequest) (*model.RoomAccessResponse, error) {
	name, displayName, err := normalizeNames(req.Name, req.DisplayName)
	if err != nil {
		return nil, err
	}

	room, err := s.roomRepo.GetRoomByName(ctx, name)
	if err != nil {
		if errors.Is(err, model.ErrRoomNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find room: %w", err)
	}

	err = bcrypt.CompareHashAndPassword([]byte(room.SecretHash), []byte(req.Password))
	if err != nil {
		return nil, ErrInvalidPassword
	}

	logger.Infof("%q joined room %q", displayName, room.Name)
	return s.admit(room, displayName)
}

// GetRoom retrieves a room by ID
func (s *Service) GetRoom(ctx context.Context, roomID uuid.UUID) (*model.Room, error) {
	room, err := s.roomRepo.SelectRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, model.ErrRoomNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return room, nil
}

// ValidateRoomToken checks a room token issued by this service
func (s *Service) ValidateRoomToken(token string, roomID uuid.UUID) (*auth.RoomClaims, error) {
	return s.tokens.Authorize(token, roomID)
}

func (s *Service) admit(room *model.Room, displayName string) (*model.RoomAccessResponse, error) {
	token, expiresAt, err := s.tokens.Generate(room.ID, displayName)
	if err != nil {
		return nil, fmt.Errorf("failed to issue room token: %w", err)
	}

	return &model.RoomAccessResponse{
		Room:        *room,
		DisplayName: displayName,
		Token:       token,
		ExpiresAt:   expiresAt,
	}, nil
}

func normalizeNames(name, displayName string) (string, string, error) {
	name = strings.TrimSpace(name)
	displayName = strings.TrimSpace(displayName)
	if name == "" || displayName == "" {
		return "", "", fmt.Errorf("%w: names must not be blank", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", "", fmt.Errorf("%w: room name longer than %d characters", ErrInvalidName, maxNameLength)
	}
	return name, displayName, nil
}
