// Package metrics exposes devicecore's Prometheus instrumentation,
// grounded on the teacher's internal/infrastructure/monitoring.Metrics
// (same promauto registration pattern), retargeted from token-issuance
// counters to the pairing, command and registration metrics this core
// actually produces.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector devicecore registers.
type Metrics struct {
	PairingAttempts    *prometheus.CounterVec
	PairingBlocks      prometheus.Counter
	BlacklistSize      prometheus.Gauge
	CommandQueueDepth  prometheus.Gauge
	CommandLatency     *prometheus.HistogramVec
	RegistrationState  *prometheus.GaugeVec
	TokenRefreshResult *prometheus.CounterVec
}

// New creates and registers devicecore's metrics against the default
// Prometheus registry.
func New() *Metrics {
	return &Metrics{
		PairingAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devicecore_pairing_attempts_total",
				Help: "Total number of local pairing confirmation attempts.",
			},
			[]string{"result"},
		),
		PairingBlocks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "devicecore_pairing_blocks_total",
			Help: "Total number of times pairing was throttled after too many failed attempts.",
		}),
		BlacklistSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "devicecore_revocation_blacklist_size",
			Help: "Current number of entries held in the access revocation store.",
		}),
		CommandQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "devicecore_command_queue_depth",
			Help: "Current number of commands held in the command queue.",
		}),
		CommandLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devicecore_command_latency_seconds",
				Help:    "Time from command enqueue to terminal state.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"trait", "name", "result"},
		),
		RegistrationState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "devicecore_registration_state",
				Help: "1 if the device is currently in the named registration state, 0 otherwise.",
			},
			[]string{"state"},
		),
		TokenRefreshResult: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devicecore_token_refresh_total",
				Help: "Total number of access token refresh attempts by result.",
			},
			[]string{"result"},
		),
	}
}

// RecordPairingAttempt records a pairing confirmation outcome.
func (m *Metrics) RecordPairingAttempt(result string) {
	m.PairingAttempts.WithLabelValues(result).Inc()
}

// RecordCommandCompletion records a command's end-to-end latency.
func (m *Metrics) RecordCommandCompletion(trait, name, result string, d time.Duration) {
	m.CommandLatency.WithLabelValues(trait, name, result).Observe(d.Seconds())
}

// SetRegistrationState zeroes every known state gauge and sets only the
// current one to 1, so dashboards can graph state as a step function.
func (m *Metrics) SetRegistrationState(states []string, current string) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1.0
		}
		m.RegistrationState.WithLabelValues(s).Set(v)
	}
}
