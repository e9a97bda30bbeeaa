package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AuthMetrics tracks logons, identity resolutions, and ticket issuance.
type AuthMetrics struct {
	logons             *prometheus.CounterVec
	resolutions        *prometheus.CounterVec
	resolutionDuration *prometheus.HistogramVec
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	ticketsIssued      *prometheus.CounterVec
	sessions           *prometheus.CounterVec
}

// NewAuthMetrics creates a Prometheus-backed AuthMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called);
// all record methods are safe on a nil receiver.
func NewAuthMetrics() *AuthMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &AuthMetrics{
		logons: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapport_logons_total",
				Help: "Logon attempts by outcome (success or a failure reason code)",
			},
			[]string{"outcome"},
		),
		resolutions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapport_identity_resolutions_total",
				Help: "Identity resolutions by path (token, name) and outcome",
			},
			[]string{"path", "outcome"},
		),
		resolutionDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rapport_identity_resolution_seconds",
				Help:    "Identity resolution latency by path",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		cacheHits: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "rapport_identity_cache_hits_total",
				Help: "Identity cache reads served from a fresh record",
			},
		),
		cacheMisses: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "rapport_identity_cache_misses_total",
				Help: "Identity cache reads that fell through to live resolution",
			},
		),
		ticketsIssued: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapport_tickets_issued_total",
				Help: "Session tickets issued, by write capability",
			},
			[]string{"write_capable"},
		),
		sessions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapport_session_evaluations_total",
				Help: "Per-request session evaluations by resulting state",
			},
			[]string{"state"},
		),
	}
}

// RecordLogon records a logon attempt. outcome is "success" or a
// failure reason code such as "invalid_credentials".
func (m *AuthMetrics) RecordLogon(outcome string) {
	if m == nil {
		return
	}
	m.logons.WithLabelValues(outcome).Inc()
}

// RecordResolution records one identity resolution.
func (m *AuthMetrics) RecordResolution(path, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(path, outcome).Inc()
	m.resolutionDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordCacheHit records an identity cache read served fresh.
func (m *AuthMetrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// RecordCacheMiss records an identity cache read that missed.
func (m *AuthMetrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// RecordTicketIssued records a ticket issuance.
func (m *AuthMetrics) RecordTicketIssued(writeCapable bool) {
	if m == nil {
		return
	}
	label := "false"
	if writeCapable {
		label = "true"
	}
	m.ticketsIssued.WithLabelValues(label).Inc()
}

// RecordSession records the evaluated state of one request.
func (m *AuthMetrics) RecordSession(state string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(state).Inc()
}
