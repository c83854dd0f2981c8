// Package metrics exposes the Prometheus instrumentation the evaluator
// orchestration layer reports into via the application.Metrics interface.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics implements application.Metrics with Prometheus collectors
// registered under the fraud_shield namespace.
type Metrics struct {
	kvFetchFailed     *prometheus.CounterVec
	mxTimeout         prometheus.Counter
	persistenceFailed prometheus.Counter
	degradedModel     prometheus.Counter
	decisions         *prometheus.CounterVec
	riskScore         prometheus.Histogram
}

// New builds a Metrics instance and registers its collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		kvFetchFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fraud_shield",
			Name:      "kv_fetch_failed_total",
			Help:      "Artifact fetches from the KV store that failed and fell back to a stale snapshot, by kind.",
		}, []string{"kind"}),
		mxTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fraud_shield",
			Name:      "mx_timeout_total",
			Help:      "MX lookups that failed or exceeded the resolver timeout.",
		}),
		persistenceFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fraud_shield",
			Name:      "persistence_failed_total",
			Help:      "Validation records that failed to persist to the recorder.",
		}),
		degradedModel: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fraud_shield",
			Name:      "degraded_model_total",
			Help:      "Evaluations that ran under the degraded-model risk floor because Markov scoring was unavailable.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fraud_shield",
			Name:      "decisions_total",
			Help:      "Evaluation decisions, by outcome.",
		}, []string{"decision"}),
		riskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fraud_shield",
			Name:      "risk_score",
			Help:      "Distribution of computed risk scores.",
			Buckets:   prometheus.LinearBuckets(0, 0.05, 21),
		}),
	}

	reg.MustRegister(m.kvFetchFailed, m.mxTimeout, m.persistenceFailed, m.degradedModel, m.decisions, m.riskScore)
	return m
}

// IncKVFetchFailed records a stale-fallback artifact refresh for kind.
func (m *Metrics) IncKVFetchFailed(kind string) {
	m.kvFetchFailed.WithLabelValues(kind).Inc()
}

// IncMXTimeout records an MX lookup that failed or exceeded its timeout.
func (m *Metrics) IncMXTimeout() {
	m.mxTimeout.Inc()
}

// IncPersistenceFailed records a validation record that failed to persist.
func (m *Metrics) IncPersistenceFailed() {
	m.persistenceFailed.Inc()
}

// IncDegradedModel records an evaluation that ran under the degraded-model
// risk floor.
func (m *Metrics) IncDegradedModel() {
	m.degradedModel.Inc()
}

// ObserveDecision records a completed evaluation's decision and risk score.
func (m *Metrics) ObserveDecision(decision string, riskScore float64) {
	m.decisions.WithLabelValues(decision).Inc()
	m.riskScore.Observe(riskScore)
}
