package session

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce sync.Once

	sessionsCreated     *prometheus.CounterVec
	sessionsCompleted   *prometheus.CounterVec
	sessionsFailed      *prometheus.CounterVec
	sessionsExpired     *prometheus.CounterVec
	nonceReuseDetected  prometheus.Counter
	sessionDurationHist prometheus.Histogram
)

func ensureMetrics() {
	metricsOnce.Do(func() {
		sessionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threshold",
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Signing sessions created",
		}, []string{"group_id"})
		sessionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threshold",
			Subsystem: "session",
			Name:      "completed_total",
			Help:      "Signing sessions that produced a verified signature",
		}, []string{"group_id"})
		sessionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threshold",
			Subsystem: "session",
			Name:      "failed_total",
			Help:      "Signing sessions that failed permanently",
		}, []string{"group_id"})
		sessionsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threshold",
			Subsystem: "session",
			Name:      "expired_total",
			Help:      "Signing sessions that timed out before completing",
		}, []string{"group_id"})
		nonceReuseDetected = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "threshold",
			Subsystem: "session",
			Name:      "nonce_reuse_detected_total",
			Help:      "Rejected nonce commitments whose value was seen before",
		})
		sessionDurationHist = promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "threshold",
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Time from session creation to verified signature",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		})
	})
}

func observeSessionDuration(createdAt, completedAt time.Time) {
	ensureMetrics()
	if d := completedAt.Sub(createdAt); d > 0 {
		sessionDurationHist.Observe(d.Seconds())
	}
}
