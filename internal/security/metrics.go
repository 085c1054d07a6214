package security

import (
	"context"
	"database/sql"
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

	// StoreLatency records chat store operation latency by operation name.
	StoreLatency *prometheus.HistogramVec

	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec

	dbPoolOpenConnections prometheus.Gauge
	dbPoolMaxConnections  prometheus.Gauge

	fanoutDeliveriesTotal *prometheus.CounterVec
	fanoutQueueDepth      prometheus.Gauge
	realtimeConnections   prometheus.Gauge
	rateLimitedTotal      prometheus.Counter
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses "k=v,k2=v2" into constant labels. Values are expanded
// against the environment ($VAR / ${VAR}). An empty string yields nil.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match %s", k, validLabelKey)
		}
		labels[k] = strings.TrimSpace(v)
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers every collector with the given constant labels. Only the
// first call registers; recorders are no-ops until then.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		register(promauto.With(prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)))
	})
}

func register(f promauto.Factory) {
	httpRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_service_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})
	httpRequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_service_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	StoreLatency = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_service_store_latency_seconds",
		Help:    "Chat store operation latency in seconds",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"operation"})

	cacheHitsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_service_cache_hits_total",
		Help: "User cache hits",
	}, []string{"cache"})
	cacheMissesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_service_cache_misses_total",
		Help: "User cache misses",
	}, []string{"cache"})

	dbPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "chat_service_db_pool_open_connections",
		Help: "Open database connections",
	})
	dbPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "chat_service_db_pool_max_connections",
		Help: "Configured maximum database connections",
	})

	fanoutDeliveriesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_service_fanout_deliveries_total",
		Help: "Realtime event deliveries by result",
	}, []string{"result"})
	fanoutQueueDepth = f.NewGauge(prometheus.GaugeOpts{
		Name: "chat_service_fanout_queue_depth",
		Help: "Realtime deliveries waiting for a fan-out worker",
	})
	realtimeConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "chat_service_realtime_connections",
		Help: "Open realtime websocket connections",
	})
	rateLimitedTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "chat_service_rate_limited_total",
		Help: "Requests rejected by the per-user rate limiter",
	})
}

// RecordCacheLookup counts a user cache hit or miss for the named cache.
func RecordCacheLookup(cache string, hit bool) {
	if cacheHitsTotal == nil {
		return
	}
	if hit {
		cacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		cacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// RecordFanout counts one fan-out delivery outcome (published, retried, failed, dropped).
func RecordFanout(result string) {
	if fanoutDeliveriesTotal != nil {
		fanoutDeliveriesTotal.WithLabelValues(result).Inc()
	}
}

// SetFanoutQueueDepth reports the number of queued fan-out deliveries.
func SetFanoutQueueDepth(n int) {
	if fanoutQueueDepth != nil {
		fanoutQueueDepth.Set(float64(n))
	}
}

// AddRealtimeConnections moves the open websocket gauge by delta.
func AddRealtimeConnections(delta int) {
	if realtimeConnections != nil {
		realtimeConnections.Add(float64(delta))
	}
}

func recordRateLimited() {
	if rateLimitedTotal != nil {
		rateLimitedTotal.Inc()
	}
}

// TrackDBPool publishes the pool limit and samples open connections every interval
// until ctx is done.
func TrackDBPool(ctx context.Context, db *sql.DB, maxOpen int, interval time.Duration) {
	if dbPoolMaxConnections == nil {
		return
	}
	dbPoolMaxConnections.Set(float64(maxOpen))
	dbPoolOpenConnections.Set(float64(db.Stats().OpenConnections))
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				dbPoolOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}

// MetricsMiddleware records request counts and latency. Requests that match no
// route are labelled "unmatched" to keep cardinality bounded.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
