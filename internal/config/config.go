package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the LinkForty core.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	RateLimit   RateLimitConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Geo         GeoConfig
	Webhook     WebhookConfig
	Cache       CacheConfig
	Attribution AttributionConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	PublicBaseURL   string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Enabled   bool
	RPS       float64
	Burst     int
	MgmtRPS   float64
	MgmtBurst int
}

type LogConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
	Port    string
}

type GeoConfig struct {
	Enabled      bool
	DatabasePath string
	CacheSize    int
	CacheTTL     time.Duration
}

// WebhookConfig holds webhook delivery settings. Only MaxBackoff is passed
// to the Dispatcher; DefaultMaxAttempts, DefaultTimeout and MaxConcurrency
// are loaded but not used by it. The Dispatcher takes max attempts and
// timeout from each webhook row, using 1 attempt and 10s when they are unset.
type WebhookConfig struct {
	DefaultMaxAttempts int
	DefaultTimeout     time.Duration
	MaxConcurrency     int
	MaxBackoff         time.Duration
}

// CacheConfig governs the Resolver's link cache (spec §4.1, P9).
type CacheConfig struct {
	LinkTTL time.Duration
}

// AttributionConfig governs the Attribution Engine's defaults (spec §4.3).
type AttributionConfig struct {
	DefaultWindowHours int
	MaxWindowHours     int
	CandidateLimit     int
	ScoreThreshold     int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("LINKFORTY_HTTP_ADDR", ":8080"),
			Env:             getEnv("LINKFORTY_ENV", "development"),
			PublicBaseURL:   getEnv("LINKFORTY_PUBLIC_BASE_URL", "https://lnk.example.com"),
			ShutdownTimeout: getDurationEnv("LINKFORTY_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("LINKFORTY_DB_HOST", "localhost"),
			Port:     getIntEnv("LINKFORTY_DB_PORT", 5432),
			User:     getEnv("LINKFORTY_DB_USER", "linkforty"),
			Password: getEnv("LINKFORTY_DB_PASSWORD", "linkforty_secret"),
			DBName:   getEnv("LINKFORTY_DB_NAME", "linkforty"),
			SSLMode:  getEnv("LINKFORTY_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("LINKFORTY_DB_MAX_CONNS", 10),
			MinConns: getIntEnv("LINKFORTY_DB_MIN_CONNS", 2),
		},
		Redis: RedisConfig{
			Addr:     getEnv("LINKFORTY_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("LINKFORTY_REDIS_PASSWORD", ""),
			DB:       getIntEnv("LINKFORTY_REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:   getBoolEnv("LINKFORTY_RATE_LIMIT_ENABLED", true),
			RPS:       getFloatEnv("LINKFORTY_RATE_LIMIT_RPS", 2000),
			Burst:     getIntEnv("LINKFORTY_RATE_LIMIT_BURST", 200),
			MgmtRPS:   getFloatEnv("LINKFORTY_RATE_LIMIT_MGMT_RPS", 100),
			MgmtBurst: getIntEnv("LINKFORTY_RATE_LIMIT_MGMT_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("LINKFORTY_LOG_LEVEL", "info"),
			Format: getEnv("LINKFORTY_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("LINKFORTY_METRICS_ENABLED", true),
			Path:    getEnv("LINKFORTY_METRICS_PATH", "/metrics"),
			Port:    getEnv("LINKFORTY_METRICS_PORT", "9090"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("LINKFORTY_GEO_ENABLED", false),
			DatabasePath: getEnv("LINKFORTY_GEO_DB_PATH", "/app/data/GeoLite2-City.mmdb"),
			CacheSize:    getIntEnv("LINKFORTY_GEO_CACHE_SIZE", 10000),
			CacheTTL:     getDurationEnv("LINKFORTY_GEO_CACHE_TTL", 1*time.Hour),
		},
		Webhook: WebhookConfig{
			DefaultMaxAttempts: getIntEnv("LINKFORTY_WEBHOOK_MAX_ATTEMPTS", 3),
			DefaultTimeout:     getDurationEnv("LINKFORTY_WEBHOOK_TIMEOUT", 10*time.Second),
			MaxConcurrency:     getIntEnv("LINKFORTY_WEBHOOK_MAX_CONCURRENCY", 50),
			MaxBackoff:         getDurationEnv("LINKFORTY_WEBHOOK_MAX_BACKOFF", 30*time.Second),
		},
		Cache: CacheConfig{
			LinkTTL: getDurationEnv("LINKFORTY_CACHE_LINK_TTL", 300*time.Second),
		},
		Attribution: AttributionConfig{
			DefaultWindowHours: getIntEnv("LINKFORTY_ATTRIBUTION_DEFAULT_WINDOW_HOURS", 168),
			MaxWindowHours:     getIntEnv("LINKFORTY_ATTRIBUTION_MAX_WINDOW_HOURS", 2160),
			CandidateLimit:     getIntEnv("LINKFORTY_ATTRIBUTION_CANDIDATE_LIMIT", 1000),
			ScoreThreshold:     getIntEnv("LINKFORTY_ATTRIBUTION_SCORE_THRESHOLD", 70),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Attribution.ScoreThreshold < 0 || c.Attribution.ScoreThreshold > 100 {
		return fmt.Errorf("LINKFORTY_ATTRIBUTION_SCORE_THRESHOLD must be in [0,100]")
	}
	if c.Attribution.DefaultWindowHours < 1 || c.Attribution.DefaultWindowHours > c.Attribution.MaxWindowHours {
		return fmt.Errorf("LINKFORTY_ATTRIBUTION_DEFAULT_WINDOW_HOURS must be in [1, max window hours]")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
