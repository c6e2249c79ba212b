// Package metrics defines the Prometheus instrumentation for the tracker.
// All collectors live on a dedicated registry so tests can build isolated
// instances without double-registration panics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every Prometheus collector the tracker exports.
type Registry struct {
	registry *prometheus.Registry

	// Ingestion
	TradesReceived         prometheus.Counter
	TimestampParseWarnings prometheus.Counter
	WSReconnects           prometheus.Counter
	EventsPublished        prometheus.Counter

	// Detection
	SignalsTotal     *prometheus.CounterVec
	AssessmentsTotal prometheus.Counter
	AlertsTriggered  prometheus.Counter
	AlertsSuppressed prometheus.Counter

	// Dispatch
	AlertsSent   *prometheus.CounterVec
	AlertsFailed *prometheus.CounterVec

	// Pipeline
	StageErrors    *prometheus.CounterVec
	DeadLetters    prometheus.Counter
	StageLag       *prometheus.GaugeVec
	ProcessingTime *prometheus.HistogramVec
}

// NewRegistry creates a registry with all tracker collectors registered.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		TradesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trades_received_total",
			Help: "Total trade events received from the activity feed",
		}),
		TimestampParseWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_timestamp_parse_warnings_total",
			Help: "Trade events whose timestamp could not be parsed and defaulted to now",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_ws_reconnects_total",
			Help: "WebSocket reconnection attempts",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_events_published_total",
			Help: "Trade events published to the Redis stream",
		}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_signals_total",
			Help: "Detector signals emitted by detector name",
		}, []string{"detector"}),
		AssessmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_assessments_total",
			Help: "Risk assessments produced by the scorer",
		}),
		AlertsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_alerts_triggered_total",
			Help: "Assessments that crossed the alert threshold",
		}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_alerts_suppressed_total",
			Help: "Alerts suppressed by the dedup window",
		}),

		AlertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_alerts_sent_total",
			Help: "Alerts delivered by channel",
		}, []string{"channel"}),
		AlertsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_alerts_failed_total",
			Help: "Alert deliveries that failed by channel",
		}, []string{"channel"}),

		StageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_stage_errors_total",
			Help: "Processing errors by pipeline stage",
		}, []string{"stage"}),
		DeadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_dead_letters_total",
			Help: "Events moved to the dead-letter stream after retry exhaustion",
		}),
		StageLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tracker_stage_pending",
			Help: "Pending entries per consumer group",
		}, []string{"stage"}),
		ProcessingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tracker_stage_duration_seconds",
			Help:    "Per-event processing duration by pipeline stage",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"stage"}),
	}

	r.registry.MustRegister(
		r.TradesReceived,
		r.TimestampParseWarnings,
		r.WSReconnects,
		r.EventsPublished,
		r.SignalsTotal,
		r.AssessmentsTotal,
		r.AlertsTriggered,
		r.AlertsSuppressed,
		r.AlertsSent,
		r.AlertsFailed,
		r.StageErrors,
		r.DeadLetters,
		r.StageLag,
		r.ProcessingTime,
	)
	return r
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
