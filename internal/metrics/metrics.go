package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "route", "status"},
	)

	// outcome: tracked, quota_exhausted, already_tracking, conflict, not_found, forbidden, error
	TrackAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "track_attempts_total",
			Help: "Total number of track milestone attempts by outcome",
		},
		[]string{"outcome"},
	)

	// transition: completed, other
	ProgressUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progress_updates_total",
			Help: "Total number of applied milestone progress updates",
		},
		[]string{"transition"},
	)

	NotificationsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_emitted_total",
			Help: "Total number of notification records written",
		},
		[]string{"kind"},
	)

	QuotaResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quota_resets_total",
			Help: "Total number of tracker quota resets",
		},
	)
)

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementTrackOutcome(outcome string) {
	TrackAttempts.WithLabelValues(outcome).Inc()
}

func IncrementProgressUpdate(completed bool) {
	transition := "other"
	if completed {
		transition = "completed"
	}
	ProgressUpdates.WithLabelValues(transition).Inc()
}

func IncrementNotification(kind string) {
	NotificationsEmitted.WithLabelValues(kind).Inc()
}

func IncrementQuotaReset() {
	QuotaResets.Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
