package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/sheryldeakin/mindstorm-sub000/internal/config"
	registrycache "github.com/sheryldeakin/mindstorm-sub000/internal/registry/cache"
	registrymerge "github.com/sheryldeakin/mindstorm-sub000/internal/registry/merge"
	registrystore "github.com/sheryldeakin/mindstorm-sub000/internal/registry/store"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/sheryldeakin/mindstorm-sub000/internal/plugin/cache/local"
	_ "github.com/sheryldeakin/mindstorm-sub000/internal/plugin/cache/noop"
	_ "github.com/sheryldeakin/mindstorm-sub000/internal/plugin/cache/redis"
	_ "github.com/sheryldeakin/mindstorm-sub000/internal/plugin/merge/none"
	_ "github.com/sheryldeakin/mindstorm-sub000/internal/plugin/merge/openai"
	_ "github.com/sheryldeakin/mindstorm-sub000/internal/plugin/route/system"
	_ "github.com/sheryldeakin/mindstorm-sub000/internal/plugin/store/gormstore"
	_ "github.com/sheryldeakin/mindstorm-sub000/internal/plugin/store/mongo"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	readHeaderTimeoutSecs := 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the derived analytics API and run the recompute worker",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "mode",
			Category:    "Server:",
			Sources:     cli.EnvVars("MINDSTORM_MODE"),
			Destination: &cfg.Mode,
			Value:       cfg.Mode,
			Usage:       "Run mode (prod|testing)",
		},
		&cli.StringFlag{
			Name:        "tls-cert-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("MINDSTORM_TLS_CERT_FILE"),
			Destination: &cfg.Listener.TLSCertFile,
			Usage:       "TLS certificate file; a self-signed certificate is generated when unset",
		},
		&cli.StringFlag{
			Name:        "tls-key-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("MINDSTORM_TLS_KEY_FILE"),
			Destination: &cfg.Listener.TLSKeyFile,
			Usage:       "TLS private key file",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("MINDSTORM_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.Int64Flag{
			Name:        "max-body-size",
			Category:    "Server:",
			Sources:     cli.EnvVars("MINDSTORM_MAX_BODY_SIZE"),
			Destination: &cfg.MaxBodySize,
			Value:       cfg.MaxBodySize,
			Usage:       "Maximum request body size in bytes",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("MINDSTORM_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("MINDSTORM_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for /health, /ready and /metrics",
		},
		&cli.BoolFlag{
			Name:        "cors-enabled",
			Category:    "Server:",
			Sources:     cli.EnvVars("MINDSTORM_CORS_ENABLED"),
			Destination: &cfg.CORSEnabled,
			Usage:       "Enable CORS headers for browser clients",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("MINDSTORM_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Usage:       "Comma-separated allowed origins; empty allows any origin",
		},

		// ── Network Listener ──────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("MINDSTORM_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.BoolFlag{
			Name:        "plain-text",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("MINDSTORM_PLAIN_TEXT"),
			Destination: &cfg.Listener.EnablePlainText,
			Value:       cfg.Listener.EnablePlainText,
			Usage:       "Enable plaintext HTTP/1.1 and h2c",
		},
		&cli.BoolFlag{
			Name:        "tls",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("MINDSTORM_TLS"),
			Destination: &cfg.Listener.EnableTLS,
			Value:       cfg.Listener.EnableTLS,
			Usage:       "Enable TLS HTTP/1.1 and HTTP/2",
		},

		// ── Management Network Listener ───────────────────────────
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("MINDSTORM_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Dedicated port for health and metrics; when unset, served on the main port",
		},
		&cli.BoolFlag{
			Name:        "management-tls",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("MINDSTORM_MANAGEMENT_TLS"),
			Destination: &cfg.ManagementListener.EnableTLS,
			Value:       cfg.ManagementListener.EnableTLS,
			Usage:       "Enable TLS for the management server",
		},

		// ── Database ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("MINDSTORM_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("MINDSTORM_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL",
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("MINDSTORM_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Apply schema migrations on startup",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("MINDSTORM_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("MINDSTORM_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MINDSTORM_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Read response cache (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MINDSTORM_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},
		&cli.DurationFlag{
			Name:        "cache-ttl",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MINDSTORM_CACHE_TTL"),
			Destination: &cfg.CacheTTL,
			Value:       cfg.CacheTTL,
			Usage:       "Lifetime of cached read responses",
		},
		&cli.Int64Flag{
			Name:        "local-cache-max-bytes",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MINDSTORM_LOCAL_CACHE_MAX_BYTES"),
			Destination: &cfg.LocalCacheMaxBytes,
			Value:       cfg.LocalCacheMaxBytes,
			Usage:       "Memory budget of the in-process cache",
		},

		// ── Recompute ─────────────────────────────────────────────
		&cli.DurationFlag{
			Name:        "worker-interval",
			Category:    "Recompute:",
			Sources:     cli.EnvVars("MINDSTORM_WORKER_INTERVAL"),
			Destination: &cfg.WorkerInterval,
			Value:       cfg.WorkerInterval,
			Usage:       "Delay between background recompute passes",
		},
		&cli.IntFlag{
			Name:        "worker-concurrency",
			Category:    "Recompute:",
			Sources:     cli.EnvVars("MINDSTORM_WORKER_CONCURRENCY"),
			Destination: &cfg.WorkerConcurrency,
			Value:       cfg.WorkerConcurrency,
			Usage:       "Scopes recomputed in parallel per kind",
		},
		&cli.IntFlag{
			Name:        "worker-batch-size",
			Category:    "Recompute:",
			Sources:     cli.EnvVars("MINDSTORM_WORKER_BATCH_SIZE"),
			Destination: &cfg.WorkerBatchSize,
			Value:       cfg.WorkerBatchSize,
			Usage:       "Stale scopes scanned per kind per pass",
		},
		&cli.BoolFlag{
			Name:        "worker-disabled",
			Category:    "Recompute:",
			Sources:     cli.EnvVars("MINDSTORM_WORKER_DISABLED"),
			Destination: &cfg.WorkerDisabled,
			Usage:       "Only recompute on read; never scan for stale scopes",
		},
		&cli.StringFlag{
			Name:        "stale-range-policy",
			Category:    "Recompute:",
			Sources:     cli.EnvVars("MINDSTORM_STALE_RANGE_POLICY"),
			Destination: &cfg.StaleRangePolicy,
			Value:       cfg.StaleRangePolicy,
			Usage:       "Ranges invalidated by an entry change (" + config.StaleRangesAll + "|" + config.StaleRangesWindow + ")",
		},
		&cli.IntFlag{
			Name:        "all-time-max-days",
			Category:    "Recompute:",
			Sources:     cli.EnvVars("MINDSTORM_ALL_TIME_MAX_DAYS"),
			Destination: &cfg.AllTimeMaxDays,
			Value:       cfg.AllTimeMaxDays,
			Usage:       "Maximum days materialized in an all_time theme series",
		},

		// ── Narrative Merge ───────────────────────────────────────
		&cli.StringFlag{
			Name:        "merge-kind",
			Category:    "Narrative Merge:",
			Sources:     cli.EnvVars("MINDSTORM_MERGE_KIND"),
			Destination: &cfg.MergeType,
			Value:       cfg.MergeType,
			Usage:       "Weekly narrative merge collaborator (" + strings.Join(registrymerge.Names(), "|") + ")",
		},
		&cli.DurationFlag{
			Name:        "merge-timeout",
			Category:    "Narrative Merge:",
			Sources:     cli.EnvVars("MINDSTORM_MERGE_TIMEOUT"),
			Destination: &cfg.MergeTimeout,
			Value:       cfg.MergeTimeout,
			Usage:       "Timeout of a whole snapshot merge",
		},
		&cli.IntFlag{
			Name:        "merge-max-output-tokens",
			Category:    "Narrative Merge:",
			Sources:     cli.EnvVars("MINDSTORM_MERGE_MAX_OUTPUT_TOKENS"),
			Destination: &cfg.MergeMaxOutputTokens,
			Value:       cfg.MergeMaxOutputTokens,
			Usage:       "Output token cap of one merge call",
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Category:    "Narrative Merge:",
			Sources:     cli.EnvVars("MINDSTORM_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key",
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Category:    "Narrative Merge:",
			Sources:     cli.EnvVars("MINDSTORM_OPENAI_BASE_URL"),
			Destination: &cfg.OpenAIBaseURL,
			Value:       cfg.OpenAIBaseURL,
			Usage:       "OpenAI-compatible API base URL",
		},
		&cli.StringFlag{
			Name:        "openai-model",
			Category:    "Narrative Merge:",
			Sources:     cli.EnvVars("MINDSTORM_OPENAI_MODEL"),
			Destination: &cfg.OpenAIModelName,
			Value:       cfg.OpenAIModelName,
			Usage:       "Chat model used for merges",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("MINDSTORM_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value constant labels for all metrics",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBodySize > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		}
		c.Next()
	}
}
