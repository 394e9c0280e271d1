package storage

import (
	"context"
	"fmt"

	"vapor-chat/pkg/config"
)

// Storage provider constants
const (
	StorageProviderNone  = "none"
	StorageProviderLocal = "local"
	StorageProviderGCS   = "gcs"
	StorageProviderMinIO = "minio"
)

// NewStorageProvider creates a storage provider based on configuration. It
// returns nil without error when storage is disabled.
func NewStorageProvider(ctx context.Context, cfg *config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case "", StorageProviderNone:
		return nil, nil

	case StorageProviderLocal:
		p, err := NewLocalProvider(cfg.LocalPath)
		if err != nil {
			return nil, err
		}
		return p, nil

	case StorageProviderGCS:
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("GCS bucket name is required")
		}
		p, err := NewGCSProvider(ctx, cfg.GCSBucket, cfg.GCSCredentialsPath)
		if err != nil {
			return nil, err
		}
		return p, nil

	case StorageProviderMinIO:
		return NewMinIOProvider(ctx, cfg.MinIO)

	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}
