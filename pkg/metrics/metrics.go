// Package metrics exposes Prometheus instrumentation for the settlement
// core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the settlement core's collectors. A single instance is
// created at startup and shared through the services.
type Metrics struct {
	settlements       *prometheus.CounterVec
	duplicates        prometheus.Counter
	gatewayOutcomes   *prometheus.CounterVec
	gatewayLatency    *prometheus.HistogramVec
	withdrawals       *prometheus.CounterVec
	criticalEntries   prometheus.Counter
	referralsClaimed  prometheus.Counter
	creditedKRW       prometheus.Counter
	stuckIntentsGauge prometheus.Gauge
}

// New registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kaus",
			Subsystem: "settlement",
			Name:      "requests_total",
			Help:      "Settlement attempts by purpose and outcome.",
		}, []string{"purpose", "outcome"}),
		duplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kaus",
			Subsystem: "settlement",
			Name:      "duplicate_replays_total",
			Help:      "Settlement requests answered from a prior credited outcome.",
		}),
		gatewayOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kaus",
			Subsystem: "gateway",
			Name:      "confirmations_total",
			Help:      "Gateway confirmation calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		gatewayLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kaus",
			Subsystem: "gateway",
			Name:      "confirmation_seconds",
			Help:      "Gateway confirmation call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		withdrawals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kaus",
			Subsystem: "withdrawal",
			Name:      "transitions_total",
			Help:      "Withdrawal state transitions by target status.",
		}, []string{"status"}),
		criticalEntries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kaus",
			Subsystem: "audit",
			Name:      "critical_entries_total",
			Help:      "Critical audit entries raised (consistency escalations).",
		}),
		referralsClaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kaus",
			Subsystem: "referral",
			Name:      "claims_total",
			Help:      "Referral bonus pairs credited.",
		}),
		creditedKRW: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kaus",
			Subsystem: "settlement",
			Name:      "credited_krw_total",
			Help:      "Total KRW credited through settlements, in won.",
		}),
		stuckIntentsGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kaus",
			Subsystem: "settlement",
			Name:      "stuck_intents",
			Help:      "Intents observed in a non-terminal state past the stuck cutoff.",
		}),
	}
}

func (m *Metrics) Settlement(purpose, outcome string) {
	m.settlements.WithLabelValues(purpose, outcome).Inc()
}

func (m *Metrics) DuplicateReplay() {
	m.duplicates.Inc()
}

func (m *Metrics) GatewayConfirmation(provider, outcome string, elapsed time.Duration) {
	m.gatewayOutcomes.WithLabelValues(provider, outcome).Inc()
	m.gatewayLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (m *Metrics) WithdrawalTransition(status string) {
	m.withdrawals.WithLabelValues(status).Inc()
}

func (m *Metrics) CriticalAudit() {
	m.criticalEntries.Inc()
}

func (m *Metrics) ReferralClaimed() {
	m.referralsClaimed.Inc()
}

func (m *Metrics) CreditedKRW(amount int64) {
	if amount > 0 {
		m.creditedKRW.Add(float64(amount))
	}
}

func (m *Metrics) SetStuckIntents(n int) {
	m.stuckIntentsGauge.Set(float64(n))
}
