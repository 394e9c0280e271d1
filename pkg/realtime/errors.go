package realtime

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"vapor-chat/pkg/model"
)

var (
	ErrViewClosed      = errors.New("room view closed")
	ErrStreamClosed    = errors.New("message stream closed")
	ErrLoadInFlight    = errors.New("message load already in flight")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrMessageTooLong  = errors.New("message is too long")
	ErrClearInProgress = errors.New("room is being cleared by another client")
)

// TransportError reports why a room subscription ended in the error state.
type TransportError struct {
	RoomID uuid.UUID
	Reason model.FailureReason
	// Connected tells whether the subscription was ever acknowledged
	Connected bool
	Err       error
}

func (e *TransportError) Error() string {
	phase := "before connecting"
	if e.Connected {
		phase = "after connecting"
	}
	return fmt.Sprintf("realtime channel for room %s failed %s (%s): %v", e.RoomID, phase, e.Reason, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Misconfigured reports a channel closed before it ever connected, which
// points at credentials or server configuration rather than a network blip.
func (e *TransportError) Misconfigured() bool {
	return e.Reason == model.FailureClosed && !e.Connected
}

// QueryError is a failed storage operation. Local state is left unchanged.
type QueryError struct {
	Op     string
	RoomID uuid.UUID
	// Input is the user supplied value the operation carried, kept for retry
	Input string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("failed to %s for room %s: %v", e.Op, e.RoomID, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Restore returns the user input to put back into the composer.
func (e *QueryError) Restore() string { return e.Input }

// ReconcilePhase names the fetch that failed
type ReconcilePhase string

const (
	PhaseBaseline ReconcilePhase = "baseline"
	PhaseRefetch  ReconcilePhase = "refetch"
)

// ReconciliationError marks the room view as not settled until an explicit retry.
type ReconciliationError struct {
	RoomID uuid.UUID
	Phase  ReconcilePhase
	Err    error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("failed to reconcile room %s (%s): %v", e.RoomID, e.Phase, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }
