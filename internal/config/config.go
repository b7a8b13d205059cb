package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	RequestTimeout     time.Duration

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	JWTSecret    string
	JWTAccessTTL time.Duration

	CORSOrigins      []string
	RateLimitRPM     int
	AuthRateLimitRPM int

	LegacyBaseURL  string
	LegacyAPIToken string
	LegacyTimeout  time.Duration

	TrashGracePeriod time.Duration

	PurgeWorkers     int
	PurgeQueueSize   int
	PurgeBackoffBase time.Duration
	PurgeBackoffMax  time.Duration
	PurgeMaxRetries  int

	BeatInterval time.Duration

	GCInterval   time.Duration
	GCStaleAfter time.Duration
	GCRetention  time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		ServerReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		ServerWriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:     getDuration("REQUEST_TIMEOUT", 30*time.Second),

		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 10)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 2)),

		JWTSecret:    strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTAccessTTL: getDuration("JWT_ACCESS_TTL", 15*time.Minute),

		CORSOrigins:      splitCSV(getEnv("CORS_ORIGINS", "*")),
		RateLimitRPM:     getInt("RATE_LIMIT_RPM", 100),
		AuthRateLimitRPM: getInt("AUTH_RATE_LIMIT_RPM", 10),

		LegacyBaseURL:  strings.TrimSpace(os.Getenv("LEGACY_BASE_URL")),
		LegacyAPIToken: strings.TrimSpace(os.Getenv("LEGACY_API_TOKEN")),
		LegacyTimeout:  getDuration("LEGACY_TIMEOUT", 30*time.Second),

		TrashGracePeriod: getDuration("TRASH_GRACE_PERIOD", 168*time.Hour),

		PurgeWorkers:     getInt("PURGE_WORKERS", 4),
		PurgeQueueSize:   getInt("PURGE_QUEUE_SIZE", 256),
		PurgeBackoffBase: getDuration("PURGE_BACKOFF_BASE", time.Minute),
		PurgeBackoffMax:  getDuration("PURGE_BACKOFF_MAX", 10*time.Minute),
		PurgeMaxRetries:  getInt("PURGE_MAX_RETRIES", 5),

		BeatInterval: getDuration("BEAT_INTERVAL", 15*time.Second),

		GCInterval:   getDuration("GC_INTERVAL", time.Hour),
		GCStaleAfter: getDuration("GC_STALE_AFTER", 2*time.Hour),
		GCRetention:  getDuration("GC_RETENTION", 720*time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.TrashGracePeriod < 0 {
		return fmt.Errorf("TRASH_GRACE_PERIOD cannot be negative")
	}

	if c.PurgeMaxRetries < 0 {
		return fmt.Errorf("PURGE_MAX_RETRIES cannot be negative")
	}

	if c.GCStaleAfter <= 0 {
		return fmt.Errorf("GC_STALE_AFTER must be positive")
	}

	if c.GCRetention <= 0 {
		return fmt.Errorf("GC_RETENTION must be positive")
	}

	return nil
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
