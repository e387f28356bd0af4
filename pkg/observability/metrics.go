// Package observability exposes Prometheus metrics and health endpoints for
// a running flowgo system.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	effectExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgo_effect_executions_total",
			Help: "Total number of effect executions",
		},
		[]string{"kind", "status"},
	)

	effectExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowgo_effect_execution_duration_seconds",
			Help:    "Effect execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	executionsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowgo_executions_in_flight",
			Help: "Number of effect executions currently in flight",
		},
	)

	agentMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgo_agent_messages_total",
			Help: "Total number of messages dispatched by agents",
		},
		[]string{"agent", "outcome"},
	)

	agentMailboxDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowgo_agent_mailbox_depth",
			Help: "Current number of messages queued per agent",
		},
		[]string{"agent"},
	)

	coordinationRoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgo_coordination_rounds_total",
			Help: "Total number of coordination rounds executed",
		},
		[]string{"policy"},
	)

	coordinationOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgo_coordination_outcomes_total",
			Help: "Total number of coordination outcomes by status",
		},
		[]string{"policy", "status"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowgo_circuit_breaker_state",
			Help: "Circuit breaker state per key (0=closed, 1=half-open, 2=open)",
		},
		[]string{"key"},
	)
)

var metricsInitOnce sync.Once

// InitMetrics registers all metrics with the default registry. Safe to call
// more than once.
func InitMetrics() {
	metricsInitOnce.Do(func() {
		prometheus.MustRegister(
			effectExecutionsTotal,
			effectExecutionDuration,
			executionsInFlight,
			agentMessagesTotal,
			agentMailboxDepth,
			coordinationRoundsTotal,
			coordinationOutcomesTotal,
			breakerState,
		)
	})
}

// RecordEffectExecution records one completed effect execution.
func RecordEffectExecution(kind, status string, duration time.Duration) {
	effectExecutionsTotal.WithLabelValues(kind, status).Inc()
	effectExecutionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ExecutionStarted bumps the in-flight gauge; ExecutionFinished lowers it.
func ExecutionStarted()  { executionsInFlight.Inc() }
func ExecutionFinished() { executionsInFlight.Dec() }

// RecordAgentMessage records one message processed by an agent. Outcome is
// "handled", "unhandled", "handler_error", "merged" or "behavior_error".
func RecordAgentMessage(agent, outcome string) {
	agentMessagesTotal.WithLabelValues(agent, outcome).Inc()
}

// SetMailboxDepth reports an agent's current mailbox depth.
func SetMailboxDepth(agent string, depth int) {
	agentMailboxDepth.WithLabelValues(agent).Set(float64(depth))
}

// RecordCoordinationRound records one executed round for a policy.
func RecordCoordinationRound(policy string) {
	coordinationRoundsTotal.WithLabelValues(policy).Inc()
}

// RecordCoordinationOutcome records the terminal status of one coordination.
func RecordCoordinationOutcome(policy, status string) {
	coordinationOutcomesTotal.WithLabelValues(policy, status).Inc()
}

// SetBreakerState reports a circuit breaker's state for its key.
func SetBreakerState(key string, state int) {
	breakerState.WithLabelValues(key).Set(float64(state))
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
