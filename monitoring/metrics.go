package monitoring

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	checkInOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_outcomes_total",
			Help: "Check-in attempts by outcome",
		},
		[]string{"outcome"},
	)

	droppedScans = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkin_dropped_scans_total",
			Help: "Decode events dropped while a scanner was locked",
		},
	)

	storeQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "directory_store_query_duration_seconds",
			Help:    "Duration of ticket store queries issued by the directory",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	enrichmentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "directory_enrichment_duration_seconds",
			Help:    "Duration of enrichment passes",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"mode"},
	)

	enrichmentMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_enrichment_misses_total",
			Help: "Relations that resolved to the unknown sentinel",
		},
		[]string{"relation"},
	)

	liveViews = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "directory_live_views",
			Help: "Open live ticket subscriptions",
		},
	)

	directorySessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "directory_sessions",
			Help: "Open directory sessions",
		},
	)

	activeScanners = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "checkin_active_scanners",
			Help: "Scanners seen within the idle TTL",
		},
	)

	attendance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "event_checked_in_total",
			Help: "Checked-in attendees per event",
		},
		[]string{"event_id"},
	)

	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_goroutines_total",
			Help: "Current number of active goroutines",
		},
	)
)

func TrackCheckIn(outcome string) {
	checkInOutcomes.WithLabelValues(outcome).Inc()
}

func TrackDroppedScan() {
	droppedScans.Inc()
}

func ObserveStoreQuery(operation string, d time.Duration) {
	storeQueryDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func ObserveEnrichment(mode string, d time.Duration) {
	enrichmentDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func TrackEnrichmentMiss(relation string) {
	enrichmentMisses.WithLabelValues(relation).Inc()
}

func LiveViewOpened() { liveViews.Inc() }
func LiveViewClosed() { liveViews.Dec() }

func SetDirectorySessions(n int) {
	directorySessions.Set(float64(n))
}

func SetActiveScanners(n int) {
	activeScanners.Set(float64(n))
}

// AttendanceKeyPrefix is the Redis key prefix of per-event check-in counters.
const AttendanceKeyPrefix = "checkin:count:"

// Monitor periodically exports gauges that live outside the process
// (attendance counters in Redis) plus runtime figures.
type Monitor struct {
	redis    redis.Cmdable
	interval time.Duration
}

func NewMonitor(redisClient redis.Cmdable, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{redis: redisClient, interval: interval}
}

// Start collects until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Collect(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) Collect(ctx context.Context) {
	m.collectAttendance(ctx)
	goroutineCount.Set(float64(runtime.NumGoroutine()))
}

func (m *Monitor) collectAttendance(ctx context.Context) {
	if m.redis == nil {
		return
	}

	var cursor uint64
	for {
		keys, next, err := m.redis.Scan(ctx, cursor, AttendanceKeyPrefix+"*", 100).Result()
		if err != nil {
			slog.Warn("Attendance metrics scan failed", "error", err)
			return
		}
		for _, key := range keys {
			count, err := m.redis.Get(ctx, key).Int64()
			if err != nil {
				continue
			}
			attendance.WithLabelValues(strings.TrimPrefix(key, AttendanceKeyPrefix)).Set(float64(count))
		}
		if next == 0 {
			return
		}
		cursor = next
	}
}
