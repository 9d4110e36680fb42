// Package observability configures structured logging and Prometheus metrics
// for the runtime.
package observability

import (
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupLogging installs the process-wide slog default from config values.
func SetupLogging(level, format string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// Metrics collects the runtime's Prometheus metrics.
type Metrics struct {
	// TurnCounter counts completed turns.
	// Labels: outcome (completed|truncated|errored)
	TurnCounter *prometheus.CounterVec

	// TurnIterations observes LLM calls per turn.
	TurnIterations prometheus.Histogram

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// SanitizerTruncations counts outputs truncated by the sanitizer.
	// Labels: tool_name
	SanitizerTruncations *prometheus.CounterVec

	// IndexerRuns counts indexing pipeline runs.
	// Labels: status (success|error)
	IndexerRuns *prometheus.CounterVec

	// CachedSessions gauges the session cache size.
	CachedSessions prometheus.Gauge

	// WSConnections gauges live WebSocket connections.
	WSConnections prometheus.Gauge
}

// NewMetrics registers the metric set on a fresh registry and returns both.
func NewMetrics() (*Metrics, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		TurnCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arawn_turns_total",
			Help: "Completed conversation turns by outcome.",
		}, []string{"outcome"}),
		TurnIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "arawn_turn_iterations",
			Help:    "LLM calls per turn.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		}),
		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arawn_tool_executions_total",
			Help: "Tool invocations by name and status.",
		}, []string{"tool_name", "status"}),
		SanitizerTruncations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arawn_sanitizer_truncations_total",
			Help: "Tool outputs truncated by the sanitizer.",
		}, []string{"tool_name"}),
		IndexerRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arawn_indexer_runs_total",
			Help: "Session indexing runs by status.",
		}, []string{"status"}),
		CachedSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "arawn_cached_sessions",
			Help: "Sessions currently held in the cache.",
		}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "arawn_ws_connections",
			Help: "Live WebSocket connections.",
		}),
	}
	return m, registry
}

// MetricsHandler serves the registry over HTTP.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
