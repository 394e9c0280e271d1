package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vapor-chat/pkg/config"
)

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	p, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	_, err = p.Get(ctx, "leaderboard/latest.json")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, p.Put(ctx, "leaderboard/latest.json", "application/json", []byte(`{"rooms":[]}`)))
	require.NoError(t, p.Put(ctx, "leaderboard/latest.json", "application/json", []byte(`{"rooms":[1]}`)))

	data, err := p.Get(ctx, "leaderboard/latest.json")
	require.NoError(t, err)
	assert.Equal(t, `{"rooms":[1]}`, string(data))

	info, err := p.Stat(ctx, "leaderboard/latest.json")
	require.NoError(t, err)
	assert.Equal(t, "latest.json", info.Name)
	assert.EqualValues(t, 13, info.Size)
	assert.Contains(t, info.ContentType, "application/json")

	require.NoError(t, p.Delete(ctx, "leaderboard/latest.json"))
	require.NoError(t, p.Delete(ctx, "leaderboard/latest.json"))
	_, err = p.Stat(ctx, "leaderboard/latest.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalProviderRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	p, err := NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../outside.json", "a/../../outside.json", ""} {
		assert.Error(t, p.Put(ctx, key, "", []byte("x")), key)
	}
}

func TestNewStorageProvider(t *testing.T) {
	ctx := context.Background()

	p, err := NewStorageProvider(ctx, &config.StorageConfig{Provider: StorageProviderNone})
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = NewStorageProvider(ctx, &config.StorageConfig{Provider: StorageProviderLocal, LocalPath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalProvider{}, p)

	_, err = NewStorageProvider(ctx, &config.StorageConfig{Provider: StorageProviderGCS})
	assert.Error(t, err)
	_, err = NewStorageProvider(ctx, &config.StorageConfig{Provider: StorageProviderMinIO})
	assert.Error(t, err)
	_, err = NewStorageProvider(ctx, &config.StorageConfig{Provider: "ftp"})
	assert.Error(t, err)
}
