package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ListenerConfig holds the network settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Stale range policies decide which range keys an entry change invalidates.
const (
	// StaleRangesAll marks every range key stale on any entry change.
	StaleRangesAll = "all"
	// StaleRangesWindow marks only the range keys whose window contains the entry date.
	StaleRangesWindow = "window"
)

// Config holds all configuration for the derived analytics service.
type Config struct {
	// Mode is "prod" (default) or "testing". Testing puts gin in test mode.
	Mode string

	// Datastore backend: "postgres", "sqlite" or "mongo".
	DatastoreType string
	DBURL         string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Read-path response cache: "none", "redis" or "local".
	CacheType          string
	RedisURL           string
	CacheTTL           time.Duration
	LocalCacheMaxBytes int64

	// Background worker
	WorkerInterval    time.Duration
	WorkerConcurrency int
	WorkerBatchSize   int
	WorkerDisabled    bool

	// Narrative merge collaborator: "none" or "openai".
	MergeType            string
	MergeTimeout         time.Duration
	MergeMaxOutputTokens int
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAIModelName      string

	// Recompute
	AllTimeMaxDays   int
	StaleRangePolicy string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Server
	Listener                  ListenerConfig
	ManagementListener        ListenerConfig
	ManagementListenerEnabled bool
	ManagementAccessLog       bool

	// CORS for browser clients of the read routes.
	CORSEnabled bool
	CORSOrigins string

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		DatastoreType:           "postgres",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		CacheType:               "none",
		CacheTTL:                5 * time.Minute,
		LocalCacheMaxBytes:      64 << 20,
		WorkerInterval:          60 * time.Second,
		WorkerConcurrency:       4,
		WorkerBatchSize:         500,
		MergeType:               "none",
		MergeTimeout:            90 * time.Second,
		MergeMaxOutputTokens:    2000,
		OpenAIBaseURL:           "https://api.openai.com/v1",
		OpenAIModelName:         "gpt-4o-mini",
		AllTimeMaxDays:          730,
		StaleRangePolicy:        StaleRangesAll,
		MetricsLabels:           "service=mindstorm-derived",
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			Port:              9090,
			EnablePlainText:   true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize:  4 * 1024 * 1024,
		DrainTimeout: 30,
	}
}

// Validate reports configuration values that cannot be served.
func (c *Config) Validate() error {
	switch strings.TrimSpace(c.StaleRangePolicy) {
	case StaleRangesAll, StaleRangesWindow:
	default:
		return fmt.Errorf("invalid stale range policy %q; valid: %s, %s", c.StaleRangePolicy, StaleRangesAll, StaleRangesWindow)
	}
	if c.WorkerInterval <= 0 {
		return fmt.Errorf("worker interval must be positive, got %s", c.WorkerInterval)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1, got %d", c.WorkerConcurrency)
	}
	if c.AllTimeMaxDays < 1 {
		return fmt.Errorf("all-time max days must be at least 1, got %d", c.AllTimeMaxDays)
	}
	if !c.Listener.EnablePlainText && !c.Listener.EnableTLS {
		return fmt.Errorf("listener requires plaintext and/or tls enabled")
	}
	return nil
}

// ResolvedWorkerBatchSize returns the configured scan batch size or a default.
func (c *Config) ResolvedWorkerBatchSize() int {
	if c == nil || c.WorkerBatchSize <= 0 {
		return 500
	}
	return c.WorkerBatchSize
}
