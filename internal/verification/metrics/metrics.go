package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification module. All methods are
// nil-safe so tests can run without a registry.
type Metrics struct {
	// Codes issued by purpose
	CodesIssued *prometheus.CounterVec

	// Validation outcomes by recommended action
	Validations *prometheus.CounterVec

	// Security flags raised by type
	SecurityFlags *prometheus.CounterVec

	// Sessions reaching a terminal status
	SessionsCompleted *prometheus.CounterVec

	// Per-source wallet check latencies
	WalletCheckLatency *prometheus.HistogramVec

	// Wallet check results by source kind and status
	WalletCheckResults *prometheus.CounterVec

	// Full session orchestration latency
	SessionLatency prometheus.Histogram
}

// New creates a Metrics instance with all verification metrics registered.
func New() *Metrics {
	return &Metrics{
		CodesIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "verigate_codes_issued_total",
			Help: "Total verification codes issued by purpose",
		}, []string{"purpose"}),

		Validations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "verigate_validations_total",
			Help: "Total code validations by recommended action",
		}, []string{"action"}),

		SecurityFlags: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "verigate_security_flags_total",
			Help: "Total security flags raised by type",
		}, []string{"type"}),

		SessionsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "verigate_sessions_completed_total",
			Help: "Total sessions reaching a terminal status",
		}, []string{"status"}),

		WalletCheckLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verigate_wallet_check_duration_seconds",
			Help:    "Duration of single-source wallet checks by source kind",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"kind"}),

		WalletCheckResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "verigate_wallet_check_results_total",
			Help: "Total wallet check results by source kind and status",
		}, []string{"kind", "status"}),

		SessionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "verigate_session_duration_seconds",
			Help:    "Duration of full session orchestration from scan to terminal status",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

// IncrementCodesIssued records an issued code.
func (m *Metrics) IncrementCodesIssued(purpose string) {
	if m != nil {
		m.CodesIssued.WithLabelValues(purpose).Inc()
	}
}

// IncrementValidation records a validation outcome.
func (m *Metrics) IncrementValidation(action string) {
	if m != nil {
		m.Validations.WithLabelValues(action).Inc()
	}
}

// IncrementSecurityFlag records a raised security flag.
func (m *Metrics) IncrementSecurityFlag(flagType string) {
	if m != nil {
		m.SecurityFlags.WithLabelValues(flagType).Inc()
	}
}

// IncrementSessionCompleted records a session reaching a terminal status.
func (m *Metrics) IncrementSessionCompleted(status string) {
	if m != nil {
		m.SessionsCompleted.WithLabelValues(status).Inc()
	}
}

// ObserveWalletCheck records one source check's latency and outcome.
func (m *Metrics) ObserveWalletCheck(kind, status string, d time.Duration) {
	if m != nil {
		m.WalletCheckLatency.WithLabelValues(kind).Observe(d.Seconds())
		m.WalletCheckResults.WithLabelValues(kind, status).Inc()
	}
}

// ObserveSessionLatency records the total orchestration duration.
func (m *Metrics) ObserveSessionLatency(d time.Duration) {
	if m != nil {
		m.SessionLatency.Observe(d.Seconds())
	}
}
