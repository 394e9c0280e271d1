package notify

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vapor-chat/pkg/model"
)

func signal() Event {
	return Event{Signal: &model.BroadcastEvent{Kind: model.SignalClearHistory, RoomID: uuid.New()}}
}

func TestPipeDelivery(t *testing.T) {
	p := NewPipe(2, nil)

	select {
	case <-p.Ready():
		t.Fatal("pipe must not be ready before MarkReady")
	default:
	}

	p.MarkReady()
	p.MarkReady()
	<-p.Ready()

	require.True(t, p.Send(signal()))
	ev := <-p.Events()
	require.NotNil(t, ev.Signal)
	assert.Equal(t, model.SignalClearHistory, ev.Signal.Kind)
}

func TestPipeOverflowFails(t *testing.T) {
	closed := 0
	p := NewPipe(1, func() { closed++ })

	require.True(t, p.Send(signal()))
	assert.False(t, p.Send(signal()))

	<-p.Done()
	assert.ErrorIs(t, p.Err(), ErrSlowConsumer)
	assert.Equal(t, 1, closed)

	// later sends are dropped without touching the error
	assert.False(t, p.Send(signal()))
	assert.ErrorIs(t, p.Err(), ErrSlowConsumer)
}

func TestPipeFirstFailureWins(t *testing.T) {
	closed := 0
	p := NewPipe(4, func() { closed++ })
	boom := errors.New("boom")

	p.Fail(boom)
	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.Err(), boom)
	assert.Equal(t, 1, closed)
}

func TestPipeClose(t *testing.T) {
	p := NewPipe(0, nil)
	require.NoError(t, p.Close())
	<-p.Done()
	assert.ErrorIs(t, p.Err(), ErrClosed)
	assert.False(t, p.Send(signal()))
}
