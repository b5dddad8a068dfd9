package metrics

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DBConnections = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections",
			Help:      "Database pool connections by state (open, in_use, idle, max).",
		},
		[]string{"driver", "state"},
	)

	DBQueryDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_errors_total",
			Help:      "Database errors by operation and kind.",
		},
		[]string{"operation", "error_type"},
	)
)

// PoolStats is a driver-neutral snapshot of a connection pool.
type PoolStats struct {
	Open  int
	InUse int
	Idle  int
	Max   int
}

// PgxPoolStats reads stats from a pgx pool.
func PgxPoolStats(pool *pgxpool.Pool) func() PoolStats {
	return func() PoolStats {
		s := pool.Stat()
		return PoolStats{
			Open:  int(s.TotalConns()),
			InUse: int(s.AcquiredConns()),
			Idle:  int(s.IdleConns()),
			Max:   int(s.MaxConns()),
		}
	}
}

// SQLDBStats reads stats from a database/sql handle.
func SQLDBStats(db *sql.DB) func() PoolStats {
	return func() PoolStats {
		s := db.Stats()
		return PoolStats{Open: s.OpenConnections, InUse: s.InUse, Idle: s.Idle, Max: s.MaxOpenConnections}
	}
}

// DBCollector samples pool stats on an interval until stopped.
type DBCollector struct {
	driver string
	stats  func() PoolStats
	stop   chan struct{}
	once   sync.Once
}

// NewDBCollector returns a collector for driver. A nil stats func makes
// collection a no-op.
func NewDBCollector(driver string, stats func() PoolStats) *DBCollector {
	return &DBCollector{driver: driver, stats: stats, stop: make(chan struct{})}
}

// Start blocks, collecting immediately and then every interval.
func (c *DBCollector) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.collect()
	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends Start. It is safe to call more than once.
func (c *DBCollector) Stop() {
	c.once.Do(func() { close(c.stop) })
}

func (c *DBCollector) collect() {
	if c.stats == nil {
		return
	}
	s := c.stats()
	DBConnections.WithLabelValues(c.driver, "open").Set(float64(s.Open))
	DBConnections.WithLabelValues(c.driver, "in_use").Set(float64(s.InUse))
	DBConnections.WithLabelValues(c.driver, "idle").Set(float64(s.Idle))
	DBConnections.WithLabelValues(c.driver, "max").Set(float64(s.Max))
}

// RecordQuery observes one query. Use it from a deferred closure so err is
// the function's final error.
func RecordQuery(operation string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err == nil {
		return
	}
	kind := "query_error"
	switch {
	case errors.Is(err, context.Canceled):
		kind = "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		kind = "timeout"
	}
	DBErrors.WithLabelValues(operation, kind).Inc()
}
