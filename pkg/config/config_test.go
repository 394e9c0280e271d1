package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "single", raw: "*", want: []string{"*"}},
		{name: "trims and drops blanks", raw: " http://a.test , ,http://b.test ", want: []string{"http://a.test", "http://b.test"}},
		{name: "empty", raw: "", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitList(tt.raw))
		})
	}
}

func TestNewConfigFromEnv(t *testing.T) {
	if isGCP {
		t.Skip("GOOGLE_CLOUD_PROJECT is set, secrets would be read from Secret Manager")
	}

	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DB_NAME", "vaporchat")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USERNAME", "postgres")
	t.Setenv("DB_PASSWORD", "postgres")
	t.Setenv("DB_MAX_OPEN_CONNS", "10")
	t.Setenv("DB_MAX_IDLE_CONNS", "5")
	t.Setenv("DB_CONN_MAX_LIFETIME", "5m")
	t.Setenv("REALTIME_CONNECT_TIMEOUT", "3s")
	t.Setenv("LEADERBOARD_LIMIT", "5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test,http://b.test")

	cfg := NewConfig()

	assert.Equal(t, "secret", cfg.JWTSecret)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, 3*time.Second, cfg.Realtime.ConnectTimeout)
	assert.Equal(t, 3*time.Second, cfg.Realtime.ClearConfirmDelay)
	assert.Equal(t, 5, cfg.Leaderboard.Limit)
	assert.Equal(t, time.Minute, cfg.Leaderboard.Window)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
}

func TestConvertSecretToConfig(t *testing.T) {
	secret := &SecretManagerConfig{
		Application: SecretApplicationConfig{
			Port:               "8080",
			SyncPort:           "8081",
			JWTSecret:          "secret",
			TokenTTL:           "2h",
			LogLevel:           "debug",
			LogFormat:          "json",
			CORSAllowedOrigins: "*",
		},
		Database: SecretDatabaseConfig{
			Name:            "vaporchat",
			MaxOpenConns:    "20",
			MaxIdleConns:    "10",
			ConnMaxLifetime: "1m",
		},
		Redis:   SecretRedisConfig{Host: "redis", Port: "6379", DB: "2"},
		Storage: SecretStorageConfig{Provider: "gcs", GCSBucket: "snapshots"},
	}

	cfg, err := convertSecretToConfig(secret)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 20, cfg.Database.MaxOpenConns)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "leaderboard/latest.json", cfg.Storage.SnapshotKey)
	assert.Equal(t, DefaultRealtimeConfig(), cfg.Realtime)
	assert.Equal(t, DefaultLeaderboardConfig(), cfg.Leaderboard)

	secret.Redis.DB = "two"
	_, err = convertSecretToConfig(secret)
	assert.Error(t, err)
}
