package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const roomTokenIssuer = "vapor-chat"

var (
	ErrInvalidToken = errors.New("invalid room token")
	ErrTokenExpired = errors.New("room token expired")
	ErrWrongRoom    = errors.New("room token issued for another room")
)

// RoomClaims grant one display name access to one room.
type RoomClaims struct {
	RoomID      string `json:"room_id"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// RoomTokenManager issues and verifies room access tokens.
type RoomTokenManager struct {
	signingKey []byte
	tokenTTL   time.Duration
	clock      quartz.Clock
}

// NewRoomTokenManager creates a manager signing with HS256.
func NewRoomTokenManager(signingKey string, tokenTTL time.Duration, clock quartz.Clock) *RoomTokenManager {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &RoomTokenManager{
		signingKey: []byte(signingKey),
		tokenTTL:   tokenTTL,
		clock:      clock,
	}
}

// Generate returns a signed token for displayName in roomID and when it expires.
func (m *RoomTokenManager) Generate(roomID uuid.UUID, displayName string) (string, time.Time, error) {
	now := m.clock.Now()
	expiresAt := now.Add(m.tokenTTL)

	claims := RoomClaims{
		RoomID:      roomID.String(),
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    roomTokenIssuer,
			Subject:   displayName,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign room token: %w", err)
	}
	return token, expiresAt, nil
}

// Validate verifies the token signature and expiry and returns its claims.
func (m *RoomTokenManager) Validate(token string) (*RoomClaims, error) {
	var claims RoomClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return m.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(roomTokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return m.clock.Now() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if _, err := uuid.Parse(claims.RoomID); err != nil {
		return nil, fmt.Errorf("%w: bad room id", ErrInvalidToken)
	}
	return &claims, nil
}

// Authorize validates token and checks it was issued for roomID.
func (m *RoomTokenManager) Authorize(token string, roomID uuid.UUID) (*RoomClaims, error) {
	claims, err := m.Validate(token)
	if err != nil {
		return nil, err
	}
	if claims.RoomID != roomID.String() {
		return nil, ErrWrongRoom
	}
	return claims, nil
}
