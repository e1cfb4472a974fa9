package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"skarbnik/internal/core"
)

const DefaultStorageKey = "skarbnik_counterek"

type Config struct {
	// Backend selection: file, sqlite or memory
	DataBackend string

	// File backend; empty means the XDG data directory
	DataDir string

	// SQLite backend
	SQLiteDBPath string

	// Key the ledger blob is stored under
	StorageKey string

	DefaultTheme string

	// Derived stats cache
	StatsCacheSize int
	StatsCacheTTL  time.Duration

	LogLevel  string
	LogFormat string

	// API server (skarbnik serve)
	HTTPAddr           string
	RateLimitPerMinute int
}

func Load() *Config {
	return &Config{
		DataBackend:  getEnv("DATA_BACKEND", "file"),
		DataDir:      getEnv("DATA_DIR", ""),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/skarbnik.db"),
		StorageKey:   getEnv("STORAGE_KEY", DefaultStorageKey),
		DefaultTheme: getEnv("DEFAULT_THEME", core.DefaultTheme),

		StatsCacheSize: getEnvInt("STATS_CACHE_SIZE", 16),
		StatsCacheTTL:  getEnvDuration("STATS_CACHE_TTL", 5*time.Minute),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		HTTPAddr:           getEnv("HTTP_ADDR", "127.0.0.1:8081"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
	}
}

// Validate validates the configuration and returns an error listing every
// problem found
func (c *Config) Validate() error {
	var errors []string

	validBackends := []string{"file", "sqlite", "memory"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" && c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
	}

	if c.StorageKey == "" {
		errors = append(errors, "storage key cannot be empty")
	} else if strings.ContainsAny(c.StorageKey, `/\`) || strings.HasPrefix(c.StorageKey, ".") {
		errors = append(errors, fmt.Sprintf("invalid storage key '%s': must be a plain name", c.StorageKey))
	}

	if err := core.ValidateTheme(c.DefaultTheme); err != nil {
		errors = append(errors, fmt.Sprintf("invalid default theme '%s'", c.DefaultTheme))
	}

	if c.StatsCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid stats cache size %d: must be at least 1", c.StatsCacheSize))
	} else if c.StatsCacheSize > 1024 {
		errors = append(errors, fmt.Sprintf("invalid stats cache size %d: must be at most 1024", c.StatsCacheSize))
	}

	if c.StatsCacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid stats cache TTL %v: must be at least 1 second", c.StatsCacheTTL))
	} else if c.StatsCacheTTL > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid stats cache TTL %v: must be at most 24 hours", c.StatsCacheTTL))
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	if _, port, err := net.SplitHostPort(c.HTTPAddr); err != nil || port == "" {
		errors = append(errors, fmt.Sprintf("invalid HTTP address '%s': must be host:port", c.HTTPAddr))
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
