package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the session counters. A nil *Metrics records nothing.
type Metrics struct {
	logins         *prometheus.CounterVec
	registrations  *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	reuseDetected  prometheus.Counter
	revocations    *prometheus.CounterVec
	storeFailures  *prometheus.CounterVec
	cleanupDeleted *prometheus.CounterVec
	storeLatency   *prometheus.HistogramVec
}

// NewMetrics registers the session metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	const ns, sub = "saas", "auth"
	return &Metrics{
		logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "logins_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		registrations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "registrations_total",
			Help: "Registration attempts by outcome.",
		}, []string{"outcome"}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "refreshes_total",
			Help: "Refresh attempts by outcome.",
		}, []string{"outcome"}),
		reuseDetected: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "refresh_reuse_detected_total",
			Help: "Refresh tokens presented after revocation.",
		}),
		revocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "revocations_total",
			Help: "Revoked refresh tokens by reason.",
		}, []string{"reason"}),
		storeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "store_failures_total",
			Help: "Token store failures by operation.",
		}, []string{"op"}),
		cleanupDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "cleanup_deleted_total",
			Help: "Refresh token rows deleted by cleanup.",
		}, []string{"kind"}),
		storeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub, Name: "store_duration_seconds",
			Help:    "Token store call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
}

func (m *Metrics) login(outcome string) {
	if m != nil {
		m.logins.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) register(outcome string) {
	if m != nil {
		m.registrations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) refresh(outcome string) {
	if m != nil {
		m.refreshes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) reuse() {
	if m != nil {
		m.reuseDetected.Inc()
	}
}

func (m *Metrics) revoked(reason string, n int64) {
	if m != nil && n > 0 {
		m.revocations.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) storeFailure(op string) {
	if m != nil {
		m.storeFailures.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) cleaned(res CleanupResult) {
	if m == nil {
		return
	}
	m.cleanupDeleted.WithLabelValues("expired").Add(float64(res.ExpiredDeleted))
	m.cleanupDeleted.WithLabelValues("revoked").Add(float64(res.OldRevokedDeleted))
}

func (m *Metrics) observeStore(op string, seconds float64) {
	if m != nil {
		m.storeLatency.WithLabelValues(op).Observe(seconds)
	}
}
