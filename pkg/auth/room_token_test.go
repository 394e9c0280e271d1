package auth

import (
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomToken(t *testing.T) {
	mClock := quartz.NewMock(t)
	m := NewRoomTokenManager("secret", time.Hour, mClock)
	roomID := uuid.New()

	token, expiresAt, err := m.Generate(roomID, "ana")
	require.NoError(t, err)
	assert.Equal(t, mClock.Now().Add(time.Hour), expiresAt)

	claims, err := m.Authorize(token, roomID)
	require.NoError(t, err)
	assert.Equal(t, roomID.String(), claims.RoomID)
	assert.Equal(t, "ana", claims.DisplayName)

	_, err = m.Authorize(token, uuid.New())
	assert.ErrorIs(t, err, ErrWrongRoom)

	other := NewRoomTokenManager("other secret", time.Hour, mClock)
	_, err = other.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	mClock.Set(expiresAt.Add(time.Second))
	_, err = m.Validate(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}
