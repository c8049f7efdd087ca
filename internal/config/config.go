// Package config loads service configuration from environment variables.
package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application
type Config struct {
	// Application settings
	Port     string `envconfig:"PORT" default:"8080"`
	GinMode  string `envconfig:"GIN_MODE" default:"release"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Discogs API access. An empty token disables external metadata
	// enrichment; lookups still run against the local catalog.
	DiscogsToken             string `envconfig:"DISCOGS_TOKEN"`
	DiscogsBaseURL           string `envconfig:"DISCOGS_BASE_URL"`
	DiscogsRequestsPerMinute int    `envconfig:"DISCOGS_REQUESTS_PER_MINUTE" default:"50"`
	DiscogsMaxConcurrent     int    `envconfig:"DISCOGS_MAX_CONCURRENT" default:"5"`
	DiscogsMaxRetries        int    `envconfig:"DISCOGS_MAX_RETRIES" default:"2"`

	// Persistent release cache. Empty disables the tier.
	DatabaseURLDiscogs string `envconfig:"DATABASE_URL_DISCOGS"`

	// Library catalog database file.
	LibraryDBPath string `envconfig:"LIBRARY_DB_PATH" default:"library.db"`

	// In-memory cache tuning.
	TrackCacheSize   int           `envconfig:"TRACK_CACHE_SIZE" default:"1000"`
	TrackCacheTTL    time.Duration `envconfig:"TRACK_CACHE_TTL" default:"1h"`
	ReleaseCacheSize int           `envconfig:"RELEASE_CACHE_SIZE" default:"500"`
	ReleaseCacheTTL  time.Duration `envconfig:"RELEASE_CACHE_TTL" default:"4h"`
	SearchCacheSize  int           `envconfig:"SEARCH_CACHE_SIZE" default:"1000"`
	SearchCacheTTL   time.Duration `envconfig:"SEARCH_CACHE_TTL" default:"1h"`
	ImageCacheSize   int           `envconfig:"IMAGE_CACHE_SIZE" default:"500"`
	ImageCacheTTL    time.Duration `envconfig:"IMAGE_CACHE_TTL" default:"24h"`

	// Bearer token for the admin upload endpoint. Empty disables it.
	AdminToken string `envconfig:"ADMIN_TOKEN"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SlogLevel maps the configured log level string onto a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DiscogsEnabled reports whether external metadata lookups are configured.
func (c *Config) DiscogsEnabled() bool {
	return c.DiscogsToken != ""
}
