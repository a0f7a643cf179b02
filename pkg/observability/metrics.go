package observability

import (
	"context"
	"net/http"

	"github.com/aretw0/kopernicus/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	toolCalls    *prometheus.CounterVec
	toolResults  *prometheus.CounterVec
	overrides    *prometheus.CounterVec
}

// NewMetrics creates the collectors, plus the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kopernicus_steps_total",
			Help: "Workflow steps completed, by step and outcome.",
		}, []string{"step", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kopernicus_step_duration_seconds",
			Help:    "Duration of workflow steps.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"step"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kopernicus_tool_calls_total",
			Help: "Capability invocation attempts, by tool.",
		}, []string{"tool"}),
		toolResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kopernicus_tool_results_total",
			Help: "Capability invocations completed, by tool and evidence status.",
		}, []string{"tool", "status"}),
		overrides: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kopernicus_loop_overrides_total",
			Help: "Decisions forced by the loop guard.",
		}, []string{"decision"}),
	}
	m.registry.MustRegister(
		m.steps, m.stepDuration, m.toolCalls, m.toolResults, m.overrides,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry, to add collectors or gather in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Hooks returns lifecycle hooks recording into the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStepLeave: func(_ context.Context, e *domain.StepEvent) {
			outcome := "ok"
			if e.Err != nil {
				outcome = "error"
			}
			m.steps.WithLabelValues(e.Step, outcome).Inc()
			m.stepDuration.WithLabelValues(e.Step).Observe(e.Duration.Seconds())
		},
		OnToolCall: func(_ context.Context, e *domain.ToolEvent) {
			m.toolCalls.WithLabelValues(e.ToolName).Inc()
		},
		OnToolReturn: func(_ context.Context, e *domain.ToolEvent) {
			m.toolResults.WithLabelValues(e.ToolName, string(e.Status)).Inc()
		},
		OnOverride: func(_ context.Context, e *domain.OverrideEvent) {
			m.overrides.WithLabelValues(string(e.Decision)).Inc()
		},
	}
}
