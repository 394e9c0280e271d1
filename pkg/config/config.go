package config

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string            `json:"port"`
	SyncPort    string            `json:"sync_port"`
	JWTSecret   string            `json:"jwt_secret"`
	TokenTTL    time.Duration     `json:"token_ttl"`
	Database    DatabaseConfig    `json:"database"`
	Redis       RedisConfig       `json:"redis"`
	Log         LogConfig         `json:"log"`
	CORS        CORSConfig        `json:"cors"`
	Realtime    RealtimeConfig    `json:"realtime"`
	Leaderboard LeaderboardConfig `json:"leaderboard"`
	Storage     StorageConfig     `json:"storage"`
}

type DatabaseConfig struct {
	Name            string        `mapstructure:"db_name"`
	Host            string        `mapstructure:"db_host"`
	Port            string        `mapstructure:"db_port"`
	Username        string        `mapstructure:"db_username"`
	Password        string        `mapstructure:"db_password"`
	MaxOpenConns    int           `mapstructure:"db_max_open_conns"`
	MaxIdleConns    int           `mapstructure:"db_max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"db_conn_max_lifetime"`
	SSLMode         string        `mapstructure:"db_ssl_mode"` // e.g., "disable", "require", "verify-ca", "verify-full"

	// LISTEN connection reconnect backoff bounds
	ListenerMinReconnect time.Duration `mapstructure:"db_listener_min_reconnect"`
	ListenerMaxReconnect time.Duration `mapstructure:"db_listener_max_reconnect"`
}

type RedisConfig struct {
	Host     string `mapstructure:"redis_host"`
	Port     string `mapstructure:"redis_port"`
	Password string `mapstructure:"redis_password"`
	DB       int    `mapstructure:"redis_db"`
}

type LogConfig struct {
	Level  string `mapstructure:"log_level"`
	Format string `mapstructure:"log_format"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

// RealtimeConfig tunes the per-room sync layer.
type RealtimeConfig struct {
	ConnectTimeout    time.Duration `mapstructure:"realtime_connect_timeout"`
	ClearConfirmDelay time.Duration `mapstructure:"realtime_clear_confirm_delay"`
	PublishTimeout    time.Duration `mapstructure:"realtime_publish_timeout"`
	EventBuffer       int           `mapstructure:"realtime_event_buffer"`
}

type LeaderboardConfig struct {
	Interval time.Duration `mapstructure:"leaderboard_interval"`
	Window   time.Duration `mapstructure:"leaderboard_window"`
	Limit    int           `mapstructure:"leaderboard_limit"`
}

type StorageConfig struct {
	Provider           string      `mapstructure:"storage_provider"` // none, local, gcs, minio
	LocalPath          string      `mapstructure:"storage_local_path"`
	GCSBucket          string      `mapstructure:"gcs_bucket"`
	GCSCredentialsPath string      `mapstructure:"gcs_credentials_path"`
	MinIO              MinIOConfig `mapstructure:"minio"`
	SnapshotKey        string      `mapstructure:"leaderboard_snapshot_key"`
}

type MinIOConfig struct {
	Endpoint        string `mapstructure:"minio_endpoint"`
	AccessKeyID     string `mapstructure:"minio_access_key_id"`
	SecretAccessKey string `mapstructure:"minio_secret_access_key"`
	UseSSL          bool   `mapstructure:"minio_use_ssl"`
	BucketName      string `mapstructure:"minio_bucket_name"`
	Region          string `mapstructure:"minio_region"`
}

func init() {
	if !isGCP {
		err := godotenv.Load()
		if err != nil {
			log.Println("Warning: Could not find or load .env file.")
		}
	}
}

func NewConfig() *Config {
	return &Config{
		Port:      getOptionalSecret("PORT", "8080"),
		SyncPort:  getOptionalSecret("SYNC_PORT", "8081"),
		JWTSecret: getRequiredSecret("JWT_SECRET"),
		TokenTTL:  parseOptionalDuration("ROOM_TOKEN_TTL", 24*time.Hour),
		Database: DatabaseConfig{
			Name:                 getRequiredSecret("DB_NAME"),
			Host:                 getRequiredSecret("DB_HOST"),
			Port:                 getRequiredSecret("DB_PORT"),
			Username:             getRequiredSecret("DB_USERNAME"),
			Password:             getRequiredSecret("DB_PASSWORD"),
			MaxOpenConns:         parseInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:         parseInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime:      parseDuration("DB_CONN_MAX_LIFETIME"),
			SSLMode:              getOptionalSecret("DB_SSL_MODE", "disable"),
			ListenerMinReconnect: parseOptionalDuration("DB_LISTENER_MIN_RECONNECT", 10*time.Second),
			ListenerMaxReconnect: parseOptionalDuration("DB_LISTENER_MAX_RECONNECT", time.Minute),
		},
		Redis: RedisConfig{
			Host:     getOptionalSecret("REDIS_HOST", "localhost"),
			Port:     getOptionalSecret("REDIS_PORT", "6379"),
			Password: getOptionalSecret("REDIS_PASSWORD", ""),
			DB:       parseOptionalInt("REDIS_DB", 0),
		},
		Log: LogConfig{
			Level:  getOptionalSecret("LOG_LEVEL", "info"),
			Format: getOptionalSecret("LOG_FORMAT", "json"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(getOptionalSecret("CORS_ALLOWED_ORIGINS", "*")),
		},
		Realtime: RealtimeConfig{
			ConnectTimeout:    parseOptionalDuration("REALTIME_CONNECT_TIMEOUT", 10*time.Second),
			ClearConfirmDelay: parseOptionalDuration("REALTIME_CLEAR_CONFIRM_DELAY", 3*time.Second),
			PublishTimeout:    parseOptionalDuration("REALTIME_PUBLISH_TIMEOUT", 2*time.Second),
			EventBuffer:       parseOptionalInt("REALTIME_EVENT_BUFFER", 256),
		},
		Leaderboard: LeaderboardConfig{
			Interval: parseOptionalDuration("LEADERBOARD_INTERVAL", 10*time.Second),
			Window:   parseOptionalDuration("LEADERBOARD_WINDOW", time.Minute),
			Limit:    parseOptionalInt("LEADERBOARD_LIMIT", 10),
		},
		Storage: StorageConfig{
			Provider:           getOptionalSecret("STORAGE_PROVIDER", "none"),
			LocalPath:          getOptionalSecret("STORAGE_LOCAL_PATH", "./data"),
			GCSBucket:          getOptionalSecret("GCS_BUCKET", ""),
			GCSCredentialsPath: getOptionalSecret("GCS_CREDENTIALS_PATH", ""),
			MinIO: MinIOConfig{
				Endpoint:        getOptionalSecret("MINIO_ENDPOINT", "localhost:9000"),
				AccessKeyID:     getOptionalSecret("MINIO_ACCESS_KEY_ID", ""),
				SecretAccessKey: getOptionalSecret("MINIO_SECRET_ACCESS_KEY", ""),
				UseSSL:          parseOptionalBool("MINIO_USE_SSL", false),
				BucketName:      getOptionalSecret("MINIO_BUCKET_NAME", "vapor-chat"),
				Region:          getOptionalSecret("MINIO_REGION", "us-east-1"),
			},
			SnapshotKey: getOptionalSecret("LEADERBOARD_SNAPSHOT_KEY", "leaderboard/latest.json"),
		},
	}
}

// Load reads the whole configuration from the JSON secret named by
// CONFIG_SECRET_NAME when running on GCP, otherwise falls back to NewConfig.
func Load(ctx context.Context) *Config {
	secretName := os.Getenv("CONFIG_SECRET_NAME")
	if !isGCP || secretName == "" {
		return NewConfig()
	}

	cfg, err := LoadFromSecretManager(ctx, os.Getenv("GOOGLE_CLOUD_PROJECT"), secretName)
	if err != nil {
		log.Fatalf("failed to load config from secret %q: %v", secretName, err)
	}
	return cfg
}

// splitList parses a comma separated secret value
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
