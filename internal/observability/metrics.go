// Package observability declares the Prometheus metrics exposed at
// GET /metrics (spec.md's Non-goals exclude a *specified* metrics
// surface, but ambient observability is carried regardless — see
// SPEC_FULL.md §5). Declaration style grounded verbatim on the
// teacher's infra/observability/observability.go promauto block,
// renamed from the "tutu" namespace to "peerball" and from
// scheduler/region/circuit-breaker subsystems to turn/timeout/
// discovery/mission ones.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Turn Metrics ───────────────────────────────────────────────────────────

// TurnsCompleted counts every committed pass-ball, keyed by outcome
// (normal, dead_letter, combo, power_up).
var TurnsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "peerball",
	Subsystem: "turn",
	Name:      "completed_total",
	Help:      "Total turns completed by outcome.",
}, []string{"outcome"})

// TurnResponseTime tracks how long a holder took to answer.
var TurnResponseTime = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "peerball",
	Subsystem: "turn",
	Name:      "response_time_ms",
	Help:      "Response time in milliseconds from ball receipt to pass-ball.",
	Buckets:   []float64{100, 250, 500, 1000, 2000, 5000, 10000, 20000},
})

// DeadlinesExpired counts turns lost to an unanswered deadline.
var DeadlinesExpired = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "peerball",
	Subsystem: "turn",
	Name:      "deadlines_expired_total",
	Help:      "Total turn deadlines that fired without a pass-ball.",
})

// ─── Timeout Calculator Metrics ─────────────────────────────────────────────

// TimeoutComputed tracks the final clamped timeout every Compute call
// produces.
var TimeoutComputed = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "peerball",
	Subsystem: "timeoutcalc",
	Name:      "final_ms",
	Help:      "Final (clamped) next-turn timeout in milliseconds.",
	Buckets:   []float64{3000, 5000, 10000, 15000, 30000, 45000, 60000},
})

// ─── Mission Metrics ────────────────────────────────────────────────────────

// MissionsTriggered counts mission completions by template id.
var MissionsTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "peerball",
	Subsystem: "mission",
	Name:      "triggered_total",
	Help:      "Total missions triggered, by template id.",
}, []string{"template"})

// ─── Discovery Metrics ──────────────────────────────────────────────────────

// DiscoveryProbes counts subnet probe outcomes.
var DiscoveryProbes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "peerball",
	Subsystem: "discovery",
	Name:      "probes_total",
	Help:      "Total discovery probes by outcome (alive, unreachable).",
}, []string{"outcome"})

// PeersKnown tracks the current size of the player set.
var PeersKnown = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "peerball",
	Subsystem: "discovery",
	Name:      "peers_known",
	Help:      "Current number of known players, including the computer opponent.",
})

// ─── Lifecycle Metrics ──────────────────────────────────────────────────────

// GamesStarted counts every StartGame invocation.
var GamesStarted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "peerball",
	Subsystem: "lifecycle",
	Name:      "games_started_total",
	Help:      "Total games started by this peer as initiator.",
})

// GamesOver counts every GameOver invocation, keyed by reason.
var GamesOver = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "peerball",
	Subsystem: "lifecycle",
	Name:      "games_over_total",
	Help:      "Total games ended, labeled by reason.",
}, []string{"reason"})

// WSSubscribers tracks the current number of connected broadcast
// subscribers.
var WSSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "peerball",
	Subsystem: "broadcast",
	Name:      "subscribers",
	Help:      "Current number of connected WebSocket subscribers.",
})
