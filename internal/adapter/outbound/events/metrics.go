package events

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/i2y/mcpforge/internal/domain"
)

// Metrics exports tool lifecycle and token accounting figures to Prometheus.
type Metrics struct {
	events         *prometheus.CounterVec
	tokensSaved    prometheus.Counter
	optimizeTokens *prometheus.HistogramVec
	toolCalls      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpforge_tool_events_total",
			Help: "Tool lifecycle events by type and outcome",
		}, []string{"type", "success"}),
		tokensSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcpforge_optimized_tokens_saved_total",
			Help: "Tokens removed from tool definitions by size optimization",
		}),
		optimizeTokens: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcpforge_tool_definition_tokens",
			Help:    "Token counts of tool definitions before and after optimization",
			Buckets: prometheus.ExponentialBuckets(32, 2, 10),
		}, []string{"variant"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpforge_tool_calls_total",
			Help: "Tool calls proxied through the runtime bridge",
		}, []string{"server", "status"}),
	}
	reg.MustRegister(m.events, m.tokensSaved, m.optimizeTokens, m.toolCalls)
	return m
}

// Emit implements usecase.EventSink.
func (m *Metrics) Emit(event domain.Event) {
	m.events.WithLabelValues(string(event.Type), strconv.FormatBool(event.Success)).Inc()
}

// ObserveOptimization records the token counts of one successful optimization.
func (m *Metrics) ObserveOptimization(original, optimised int) {
	m.optimizeTokens.WithLabelValues("original").Observe(float64(original))
	m.optimizeTokens.WithLabelValues("optimised").Observe(float64(optimised))
	if original > optimised {
		m.tokensSaved.Add(float64(original - optimised))
	}
}

// ObserveToolCall counts one proxied tool call.
func (m *Metrics) ObserveToolCall(serverID string, isError bool) {
	status := "success"
	if isError {
		status = "error"
	}
	m.toolCalls.WithLabelValues(serverID, status).Inc()
}
