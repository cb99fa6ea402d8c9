package agent

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RuntimeMetrics exposes orchestration counters to Prometheus. All fields
// are optional for the core: a nil *RuntimeMetrics disables collection.
type RuntimeMetrics struct {
	CyclesTotal     *prometheus.CounterVec
	CycleErrors     *prometheus.CounterVec
	CycleDuration   *prometheus.HistogramVec
	ToolExecutions  *prometheus.CounterVec
	ActiveAgents    prometheus.Gauge
	ViolationsTotal prometheus.Counter
}

// NewRuntimeMetrics builds and registers the runtime collectors.
func NewRuntimeMetrics(reg prometheus.Registerer) *RuntimeMetrics {
	m := &RuntimeMetrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "localhive",
			Name:      "agent_cycles_total",
			Help:      "Completed agent cycles by role.",
		}, []string{"role"}),
		CycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "localhive",
			Name:      "agent_cycle_errors_total",
			Help:      "Agent cycles that ended in the error state, by role.",
		}, []string{"role"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "localhive",
			Name:      "agent_cycle_duration_seconds",
			Help:      "Wall-clock duration of agent cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"role"}),
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "localhive",
			Name:      "tool_executions_total",
			Help:      "Tool executions by tool name and status.",
		}, []string{"tool", "status"}),
		ActiveAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "localhive",
			Name:      "active_agents",
			Help:      "Number of registered agents.",
		}),
		ViolationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "localhive",
			Name:      "compliance_violations_total",
			Help:      "Compliance violations recorded by the guardian.",
		}),
	}
	reg.MustRegister(m.CyclesTotal, m.CycleErrors, m.CycleDuration,
		m.ToolExecutions, m.ActiveAgents, m.ViolationsTotal)
	return m
}

func (m *RuntimeMetrics) observeCycle(role Role, seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(string(role)).Inc()
	m.CycleDuration.WithLabelValues(string(role)).Observe(seconds)
	if failed {
		m.CycleErrors.WithLabelValues(string(role)).Inc()
	}
}

func (m *RuntimeMetrics) observeTool(name, status string) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(name, status).Inc()
}

func (m *RuntimeMetrics) setActiveAgents(n int) {
	if m == nil {
		return
	}
	m.ActiveAgents.Set(float64(n))
}

func (m *RuntimeMetrics) incViolations() {
	if m == nil {
		return
	}
	m.ViolationsTotal.Inc()
}
