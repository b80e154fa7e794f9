package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"watchparty/internal/party"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	ServerAddr   string
	StoreBackend string
	DatabaseURL  string
	RedisURL     string
	StateTTL     time.Duration
	// PersistDebounce of zero writes every action through immediately.
	PersistDebounce time.Duration
	Sync            party.Config
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() (*Config, error) {
	cfg := &Config{
		ServerAddr:   getEnv("SERVER_ADDR", ":8080"),
		StoreBackend: getEnv("STORE_BACKEND", BackendMemory),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		Sync:         party.DefaultConfig(),
	}

	var err error
	if cfg.StateTTL, err = getDuration("STATE_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.PersistDebounce, err = getDuration("PERSIST_DEBOUNCE", 0); err != nil {
		return nil, err
	}
	if cfg.Sync.HeartbeatInterval, err = getDuration("HEARTBEAT_INTERVAL", cfg.Sync.HeartbeatInterval); err != nil {
		return nil, err
	}
	if cfg.Sync.CloseGrace, err = getDuration("CLOSE_GRACE", cfg.Sync.CloseGrace); err != nil {
		return nil, err
	}
	if cfg.Sync.LeaveNotice, err = getDuration("LEAVE_NOTICE", cfg.Sync.LeaveNotice); err != nil {
		return nil, err
	}
	if v := os.Getenv("ENFORCE_SEQUENCE"); v != "" {
		enforce, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ENFORCE_SEQUENCE: %w", err)
		}
		cfg.Sync.EnforceSequence = enforce
	}

	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres backend")
		}
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for the redis backend")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	if cfg.PersistDebounce < 0 {
		return nil, errors.New("PERSIST_DEBOUNCE must not be negative")
	}
	if err := cfg.Sync.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format: %w", key, err)
	}
	return d, nil
}
