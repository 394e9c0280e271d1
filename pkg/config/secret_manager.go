package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// SecretManagerConfig represents the JSON structure stored in Secret Manager
type SecretManagerConfig struct {
	Application SecretApplicationConfig `json:"application"`
	Database    SecretDatabaseConfig    `json:"database"`
	Redis       SecretRedisConfig       `json:"redis"`
	Storage     SecretStorageConfig     `json:"storage"`
}

// SecretApplicationConfig holds application-specific settings from Secret Manager
type SecretApplicationConfig struct {
	Port               string `json:"port"`
	SyncPort           string `json:"sync_port"`
	JWTSecret          string `json:"jwt_secret"`
	TokenTTL           string `json:"token_ttl"`
	LogLevel           string `json:"log_level"`
	LogFormat          string `json:"log_format"`
	CORSAllowedOrigins string `json:"cors_allowed_origins"`
}

// SecretDatabaseConfig holds database connection settings from Secret Manager
type SecretDatabaseConfig struct {
	Name            string `json:"name"`
	Host            string `json:"host"`
	Port            string `json:"port"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	MaxOpenConns    string `json:"max_open_conns"`
	MaxIdleConns    string `json:"max_idle_conns"`
	ConnMaxLifetime string `json:"conn_max_lifetime"`
	SSLMode         string `json:"ssl_mode"`
}

// SecretRedisConfig holds Redis connection settings from Secret Manager
type SecretRedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       string `json:"db"`
}

// SecretStorageConfig holds leaderboard snapshot storage settings from Secret Manager
type SecretStorageConfig struct {
	Provider           string `json:"provider"`
	GCSBucket          string `json:"gcs_bucket"`
	GCSCredentialsPath string `json:"gcs_credentials_path"`
	SnapshotKey        string `json:"snapshot_key"`
}

// LoadFromSecretManager loads configuration from a single JSON secret in Google Secret Manager.
// Realtime and leaderboard tuning are not part of the secret and keep their defaults.
func LoadFromSecretManager(ctx context.Context, projectID, secretName string) (*Config, error) {
	data, err := accessSecretVersion(ctx, fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, secretName))
	if err != nil {
		return nil, fmt.Errorf("failed to access secret: %w", err)
	}

	var secretConfig SecretManagerConfig
	if err := json.Unmarshal([]byte(data), &secretConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config JSON: %w", err)
	}

	return convertSecretToConfig(&secretConfig)
}

// accessSecretVersion accesses the payload for the given secret version if it exists.
func accessSecretVersion(ctx context.Context, name string) (string, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create secretmanager client: %w", err)
	}
	defer client.Close()

	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	}

	result, err := client.AccessSecretVersion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to access secret version: %w", err)
	}

	return string(result.Payload.Data), nil
}

// convertSecretToConfig converts SecretManagerConfig to the Config structure
func convertSecretToConfig(secret *SecretManagerConfig) (*Config, error) {
	maxOpenConns, err := strconv.Atoi(secret.Database.MaxOpenConns)
	if err != nil {
		return nil, fmt.Errorf("invalid max_open_conns: %w", err)
	}

	maxIdleConns, err := strconv.Atoi(secret.Database.MaxIdleConns)
	if err != nil {
		return nil, fmt.Errorf("invalid max_idle_conns: %w", err)
	}

	connMaxLifetime, err := time.ParseDuration(secret.Database.ConnMaxLifetime)
	if err != nil {
		return nil, fmt.Errorf("invalid conn_max_lifetime: %w", err)
	}

	redisDB, err := strconv.Atoi(secret.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("invalid redis db: %w", err)
	}

	tokenTTL := 24 * time.Hour
	if secret.Application.TokenTTL != "" {
		tokenTTL, err = time.ParseDuration(secret.Application.TokenTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid token_ttl: %w", err)
		}
	}

	snapshotKey := secret.Storage.SnapshotKey
	if snapshotKey == "" {
		snapshotKey = "leaderboard/latest.json"
	}

	return &Config{
		Port:      secret.Application.Port,
		SyncPort:  secret.Application.SyncPort,
		JWTSecret: secret.Application.JWTSecret,
		TokenTTL:  tokenTTL,
		Database: DatabaseConfig{
			Name:                 secret.Database.Name,
			Host:                 secret.Database.Host,
			Port:                 secret.Database.Port,
			Username:             secret.Database.Username,
			Password:             secret.Database.Password,
			MaxOpenConns:         maxOpenConns,
			MaxIdleConns:         maxIdleConns,
			ConnMaxLifetime:      connMaxLifetime,
			SSLMode:              secret.Database.SSLMode,
			ListenerMinReconnect: 10 * time.Second,
			ListenerMaxReconnect: time.Minute,
		},
		Log: LogConfig{
			Level:  secret.Application.LogLevel,
			Format: secret.Application.LogFormat,
		},
		Redis: RedisConfig{
			Host:     secret.Redis.Host,
			Port:     secret.Redis.Port,
			Password: secret.Redis.Password,
			DB:       redisDB,
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(secret.Application.CORSAllowedOrigins),
		},
		Realtime:    DefaultRealtimeConfig(),
		Leaderboard: DefaultLeaderboardConfig(),
		Storage: StorageConfig{
			Provider:           secret.Storage.Provider,
			GCSBucket:          secret.Storage.GCSBucket,
			GCSCredentialsPath: secret.Storage.GCSCredentialsPath,
			SnapshotKey:        snapshotKey,
		},
	}, nil
}

// DefaultRealtimeConfig returns the realtime tuning used when nothing is configured.
func DefaultRealtimeConfig() RealtimeConfig {
	return RealtimeConfig{
		ConnectTimeout:    10 * time.Second,
		ClearConfirmDelay: 3 * time.Second,
		PublishTimeout:    2 * time.Second,
		EventBuffer:       256,
	}
}

func DefaultLeaderboardConfig() LeaderboardConfig {
	return LeaderboardConfig{
		Interval: 10 * time.Second,
		Window:   time.Minute,
		Limit:    10,
	}
}
