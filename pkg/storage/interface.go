package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for a missing object.
var ErrNotFound = errors.New("object not found")

// Provider stores small documents (leaderboard snapshots) by key.
type Provider interface {
	// Put writes data under key, replacing any previous object
	Put(ctx context.Context, key, contentType string, data []byte) error

	// Get reads the object stored under key
	Get(ctx context.Context, key string) ([]byte, error)

	// Stat returns basic information about the object under key
	Stat(ctx context.Context, key string) (*FileInfo, error)

	// Delete removes the object under key
	Delete(ctx context.Context, key string) error

	// Close releases the provider's client
	Close() error
}

// FileInfo represents basic object information
type FileInfo struct {
	Name         string
	Size         int64
	ContentType  string
	LastModified time.Time
}
