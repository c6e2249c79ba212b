package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"polymarket-tracker/internal/metrics"
)

// Server exposes /health, /metrics, /ready, and /live.
type Server struct {
	monitor *Monitor
	server  *http.Server
	logger  *slog.Logger
}

// NewServer wires the monitor and metrics registry into an HTTP server
// on the given port.
func NewServer(port int, monitor *Monitor, reg *metrics.Registry, logger *slog.Logger) *Server {
	s := &Server{
		monitor: monitor,
		logger:  logger.With("component", "health_server"),
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", reg.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	router.HandleFunc("/live", s.handleLive).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("health server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("health server stopping")
	return s.server.Shutdown(ctx)
}

// Handler returns the route handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// streamBody is the per-stream section of the /health response.
type streamBody struct {
	Status          string   `json:"status"`
	EventsReceived  int64    `json:"events_received"`
	EventsPerSecond float64  `json:"events_per_second"`
	LastEventTime   *float64 `json:"last_event_time"`
	LastError       *string  `json:"last_error"`
}

// healthBody is the /health response.
type healthBody struct {
	Status               string                `json:"status"`
	UptimeSeconds        float64               `json:"uptime_seconds"`
	TotalEventsReceived  int64                 `json:"total_events_received"`
	TotalEventsPerSecond float64               `json:"total_events_per_second"`
	Streams              map[string]streamBody `json:"streams"`
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.Report()

	body := healthBody{
		Status:               string(report.Status),
		UptimeSeconds:        report.UptimeSeconds,
		TotalEventsReceived:  report.TotalEventsReceived,
		TotalEventsPerSecond: round2(report.TotalEventsPerSecond),
		Streams:              make(map[string]streamBody, len(report.Streams)),
	}
	for name, stream := range report.Streams {
		sb := streamBody{
			Status:          string(stream.Status),
			EventsReceived:  stream.EventsReceived,
			EventsPerSecond: round2(stream.EventsPerSecond),
		}
		if stream.LastEventTime != nil {
			ts := float64(stream.LastEventTime.UnixMilli()) / 1000
			sb.LastEventTime = &ts
		}
		if stream.LastError != "" {
			msg := stream.LastError
			sb.LastError = &msg
		}
		body.Streams[name] = sb
	}

	status := http.StatusOK
	if report.Status != StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.Report()
	if report.Status == StatusUnhealthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready":  false,
			"reason": "unhealthy",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"live": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
