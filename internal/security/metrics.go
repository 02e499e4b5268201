package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// StoreLatency can be used by store implementations to record operation latency.
	StoreLatency *prometheus.HistogramVec

	// CacheHitsTotal and CacheMissesTotal count read-path response cache lookups.
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// RecomputeTotal counts recompute attempts by kind and result (ok, superseded, error).
	RecomputeTotal *prometheus.CounterVec

	// RecomputeDuration observes recompute latency by kind.
	RecomputeDuration *prometheus.HistogramVec

	// MergeCallsTotal counts narrative merge collaborator calls by result.
	MergeCallsTotal *prometheus.CounterVec

	// WorkerTicksTotal counts background worker ticks.
	WorkerTicksTotal prometheus.Counter

	// ReadTriggersTotal counts read-path recompute triggers by kind and outcome (started, deduped).
	ReadTriggersTotal *prometheus.CounterVec

	// StaleReadsTotal counts reads answered with stale or missing data, by kind.
	StaleReadsTotal *prometheus.CounterVec

	// DBPoolOpenConnections tracks the number of currently open database connections.
	DBPoolOpenConnections prometheus.Gauge

	// DBPoolMaxConnections tracks the configured maximum database connections.
	DBPoolMaxConnections prometheus.Gauge
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Must be called before starting the HTTP server or any store/cache initialization
// that records metrics. Safe to call multiple times; only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindstorm_derived_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mindstorm_derived_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mindstorm_derived_store_latency_seconds",
			Help:    "Store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "mindstorm_derived_cache_hits_total",
		Help: "Total cache hits",
	})

	CacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "mindstorm_derived_cache_misses_total",
		Help: "Total cache misses",
	})

	RecomputeTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindstorm_derived_recompute_total",
			Help: "Total derived cache recomputes",
		},
		[]string{"kind", "result"},
	)

	RecomputeDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mindstorm_derived_recompute_duration_seconds",
			Help:    "Derived cache recompute duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 180},
		},
		[]string{"kind"},
	)

	MergeCallsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindstorm_derived_merge_calls_total",
			Help: "Total narrative merge collaborator calls",
		},
		[]string{"result"},
	)

	WorkerTicksTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "mindstorm_derived_worker_ticks_total",
		Help: "Total background worker ticks",
	})

	ReadTriggersTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindstorm_derived_read_triggers_total",
			Help: "Total recomputes triggered by reads",
		},
		[]string{"kind", "outcome"},
	)

	StaleReadsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindstorm_derived_stale_reads_total",
			Help: "Total reads served stale or empty data",
		},
		[]string{"kind"},
	)

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "mindstorm_derived_db_pool_open_connections",
		Help: "Number of open database connections",
	})

	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "mindstorm_derived_db_pool_max_connections",
		Help: "Maximum number of database connections",
	})
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(duration.Seconds())
	}
}

// ObserveRecompute records one recompute outcome.
func ObserveRecompute(kind, result string, started time.Time) {
	if RecomputeTotal == nil {
		return
	}
	RecomputeTotal.WithLabelValues(kind, result).Inc()
	RecomputeDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

// CountMergeCalls adds n merge calls with the given result.
func CountMergeCalls(result string, n int) {
	if MergeCallsTotal == nil || n <= 0 {
		return
	}
	MergeCallsTotal.WithLabelValues(result).Add(float64(n))
}

// CountReadTrigger records a read-path trigger outcome.
func CountReadTrigger(kind, outcome string) {
	if ReadTriggersTotal == nil {
		return
	}
	ReadTriggersTotal.WithLabelValues(kind, outcome).Inc()
}

// CountStaleRead records a stale or empty read.
func CountStaleRead(kind string) {
	if StaleReadsTotal == nil {
		return
	}
	StaleReadsTotal.WithLabelValues(kind).Inc()
}

// CountCacheLookup records a response cache hit or miss.
func CountCacheLookup(hit bool) {
	if CacheHitsTotal == nil {
		return
	}
	if hit {
		CacheHitsTotal.Inc()
		return
	}
	CacheMissesTotal.Inc()
}

// CountWorkerTick records one background worker tick.
func CountWorkerTick() {
	if WorkerTicksTotal == nil {
		return
	}
	WorkerTicksTotal.Inc()
}
