package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Skip reasons recorded on UsersSkipped.
const (
	SkipNoCredential      = "no_credential"
	SkipCredentialRevoked = "credential_revoked"
	SkipDecryption        = "decryption_failure"
	SkipRefreshRevoked    = "refresh_revoked"
	SkipRefreshFailed     = "refresh_failed"
	SkipUnknownAddress    = "unknown_address"
	SkipListFailed        = "list_failed"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	ReconcileRuns        *prometheus.CounterVec
	RepliesRecorded      prometheus.Counter
	UsersSkipped         *prometheus.CounterVec
	ThreadFetchFailures  prometheus.Counter
	EmailsSent           prometheus.Counter
	SendFailures         prometheus.Counter
	UnrecordedDeliveries prometheus.Counter
	ReconcileDuration    prometheus.Histogram
}

// NewMetrics creates the metrics on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ReconcileRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cold_outreach_reconcile_runs_total",
			Help: "Total number of reply reconciliation runs by outcome",
		}, []string{"status"}),
		RepliesRecorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "cold_outreach_replies_recorded_total",
			Help: "Total number of new inbound replies recorded",
		}),
		UsersSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cold_outreach_users_skipped_total",
			Help: "Total number of users skipped during reconciliation by reason",
		}, []string{"reason"}),
		ThreadFetchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "cold_outreach_thread_fetch_failures_total",
			Help: "Total number of Gmail thread fetches that failed",
		}),
		EmailsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "cold_outreach_emails_sent_total",
			Help: "Total number of emails accepted by Gmail",
		}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "cold_outreach_send_failures_total",
			Help: "Total number of sends that failed before reaching Gmail or were rejected by it",
		}),
		UnrecordedDeliveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "cold_outreach_unrecorded_deliveries_total",
			Help: "Total number of emails delivered by Gmail whose metadata could not be saved",
		}),
		ReconcileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cold_outreach_reconcile_duration_seconds",
			Help:    "Time spent in one reply reconciliation run",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
