// Package metrics exposes Prometheus collectors for the match engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "codearena"

// Metrics holds every collector the engine records into.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	queueSize           *prometheus.GaugeVec
	matchesCreated      *prometheus.CounterVec
	matchesConcluded    *prometheus.CounterVec
	activeMatches       prometheus.Gauge
	submissions         *prometheus.CounterVec
	judgeLatency        prometheus.Histogram
	scoringFailures     prometheus.Counter
	scoringRetries      prometheus.Counter
	invariantViolations *prometheus.CounterVec
	connectedPlayers    prometheus.Gauge
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	auto := promauto.With(reg)

	return &Metrics{
		queueSize: auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "size",
			Help:      "Number of players waiting per category",
		}, []string{"category"}),
		matchesCreated: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "match",
			Name:      "created_total",
			Help:      "Matches formed by the matcher per category",
		}, []string{"category"}),
		matchesConcluded: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "match",
			Name:      "concluded_total",
			Help:      "Matches concluded per reason",
		}, []string{"reason"}),
		activeMatches: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "match",
			Name:      "active",
			Help:      "Matches that are waiting or in progress",
		}),
		submissions: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "finalized_total",
			Help:      "Submissions finalized per terminal status",
		}, []string{"status"}),
		judgeLatency: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "judge_latency_seconds",
			Help:      "Round trip time of judge calls",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		scoringFailures: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "failures_total",
			Help:      "Post-match updates that exhausted their retries",
		}),
		scoringRetries: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "retries_total",
			Help:      "Post-match update attempts that were retried",
		}),
		invariantViolations: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Observed invariant violations per kind",
		}, []string{"kind"}),
		connectedPlayers: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connected_players",
			Help:      "Players holding an open realtime channel",
		}),
	}
}

func (m *Metrics) SetQueueSize(category string, size int) {
	if m == nil {
		return
	}
	m.queueSize.WithLabelValues(category).Set(float64(size))
}

func (m *Metrics) MatchCreated(category string) {
	if m == nil {
		return
	}
	m.matchesCreated.WithLabelValues(category).Inc()
	m.activeMatches.Inc()
}

func (m *Metrics) MatchConcluded(reason string) {
	if m == nil {
		return
	}
	m.matchesConcluded.WithLabelValues(reason).Inc()
	m.activeMatches.Dec()
}

func (m *Metrics) SubmissionFinalized(status string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveJudgeLatency(seconds float64) {
	if m == nil {
		return
	}
	m.judgeLatency.Observe(seconds)
}

func (m *Metrics) ScoringRetried() {
	if m == nil {
		return
	}
	m.scoringRetries.Inc()
}

func (m *Metrics) ScoringFailed() {
	if m == nil {
		return
	}
	m.scoringFailures.Inc()
}

func (m *Metrics) InvariantViolation(kind string) {
	if m == nil {
		return
	}
	m.invariantViolations.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetConnectedPlayers(n int) {
	if m == nil {
		return
	}
	m.connectedPlayers.Set(float64(n))
}
