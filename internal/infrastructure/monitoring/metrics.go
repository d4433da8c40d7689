package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/docufort/admitd/pkg/constants"
)

// Metrics manages the Prometheus metrics of the admission pipeline.
type Metrics struct {
	AdmissionDecisions *prometheus.CounterVec
	AdmissionLatency   *prometheus.HistogramVec
	RateLimitDenials   *prometheus.CounterVec
	SpamEscalations    prometheus.Counter
	StoreFailures      *prometheus.CounterVec
	ActiveSessions     prometheus.GaugeFunc
	JobsSubmitted      *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics. activeSessions feeds the
// session gauge on each scrape.
func NewMetrics(activeSessions func() float64) *Metrics {
	return &Metrics{
		AdmissionDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admitd_admission_decisions_total",
				Help: "Admission decisions by outcome, reason, and tier.",
			},
			[]string{"outcome", "reason", "tier"},
		),
		AdmissionLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "admitd_admission_latency_seconds",
				Help:    "Latency of one admission decision.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event_type"},
		),
		RateLimitDenials: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admitd_rate_limit_denials_total",
				Help: "Denials issued by the rate limiter per resource class.",
			},
			[]string{"resource", "tier"},
		),
		SpamEscalations: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "admitd_spam_escalations_total",
				Help: "Bans issued by the anti-spam scorer.",
			},
		),
		StoreFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admitd_store_failures_total",
				Help: "Backing store failures by store and applied policy.",
			},
			[]string{"store", "policy"},
		),
		ActiveSessions: promauto.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "admitd_active_sessions",
				Help: "Live workflow sessions.",
			},
			activeSessions,
		),
		JobsSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admitd_jobs_submitted_total",
				Help: "Document engine jobs submitted by type.",
			},
			[]string{"type"},
		),
	}
}

// RecordDecision records one admission outcome.
func (m *Metrics) RecordDecision(admitted bool, reason string, tier constants.Tier, eventType constants.EventType, latency time.Duration) {
	outcome := "admitted"
	if !admitted {
		outcome = "rejected"
	}
	if reason == "" {
		reason = "none"
	}
	m.AdmissionDecisions.WithLabelValues(outcome, reason, string(tier)).Inc()
	m.AdmissionLatency.WithLabelValues(string(eventType)).Observe(latency.Seconds())
}

// RecordRateLimitDenial records a limiter denial.
func (m *Metrics) RecordRateLimitDenial(resource constants.ResourceClass, tier constants.Tier) {
	m.RateLimitDenials.WithLabelValues(string(resource), string(tier)).Inc()
}

// RecordStoreFailure records a backing store failure and the policy applied.
func (m *Metrics) RecordStoreFailure(store string, policy constants.FailurePolicy) {
	m.StoreFailures.WithLabelValues(store, string(policy)).Inc()
}

// RecordJobSubmitted records a document engine submission.
func (m *Metrics) RecordJobSubmitted(jobType constants.JobType) {
	m.JobsSubmitted.WithLabelValues(string(jobType)).Inc()
}
