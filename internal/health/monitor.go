// Package health tracks the liveness of the pipeline's data streams
// and serves the health and metrics HTTP endpoints.
//
// Each stream (the trade feed, the bus consumers) reports connects,
// disconnects, and events; the monitor derives per-stream status from
// event recency and rolls the streams up into one overall verdict:
// every stream disconnected is unhealthy, any stream disconnected or
// stale is degraded, otherwise healthy.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultStaleThreshold marks a stream stale after this long
	// without an event.
	DefaultStaleThreshold = 60 * time.Second

	// DefaultCheckInterval is the cadence of the background check loop.
	DefaultCheckInterval = 5 * time.Second

	// throughputWindow is the sliding window for events-per-second.
	throughputWindow = 10 * time.Second
)

// Status is the overall pipeline health.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// StreamStatus is the state of one monitored stream.
type StreamStatus string

const (
	StreamActive       StreamStatus = "active"
	StreamStale        StreamStatus = "stale"
	StreamDisconnected StreamStatus = "disconnected"
)

// StreamHealth is a point-in-time snapshot of one stream.
type StreamHealth struct {
	Name            string
	Status          StreamStatus
	LastEventTime   *time.Time
	EventsReceived  int64
	EventsPerSecond float64
	ConnectedSince  *time.Time
	LastError       string
}

// Report rolls every stream up into the overall verdict.
type Report struct {
	Status               Status
	Streams              map[string]StreamHealth
	TotalEventsReceived  int64
	TotalEventsPerSecond float64
	UptimeSeconds        float64
	Timestamp            time.Time
}

// ChangeCallback fires when the overall status transitions.
type ChangeCallback func(Report)

type streamState struct {
	health StreamHealth
	window []time.Time
}

// MonitorConfig tunes the monitor. Zero values take defaults.
type MonitorConfig struct {
	StaleThreshold time.Duration
	CheckInterval  time.Duration
	OnChange       ChangeCallback
}

// Monitor tracks stream liveness and throughput.
type Monitor struct {
	staleThreshold time.Duration
	checkInterval  time.Duration
	onChange       ChangeCallback
	logger         *slog.Logger

	mu         sync.Mutex
	streams    map[string]*streamState
	startTime  time.Time
	running    bool
	lastStatus Status
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewMonitor creates a health monitor.
func NewMonitor(cfg MonitorConfig, logger *slog.Logger) *Monitor {
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultStaleThreshold
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	return &Monitor{
		staleThreshold: cfg.StaleThreshold,
		checkInterval:  cfg.CheckInterval,
		onChange:       cfg.OnChange,
		logger:         logger.With("component", "health_monitor"),
		streams:        make(map[string]*streamState),
	}
}

// RegisterStream adds a stream in the disconnected state. Idempotent.
func (m *Monitor) RegisterStream(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerLocked(name)
}

func (m *Monitor) registerLocked(name string) *streamState {
	st, ok := m.streams[name]
	if !ok {
		st = &streamState{health: StreamHealth{Name: name, Status: StreamDisconnected}}
		m.streams[name] = st
		m.logger.Info("registered stream", "stream", name)
	}
	return st
}

// SetStreamConnected marks a stream active and clears its last error.
func (m *Monitor) SetStreamConnected(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.registerLocked(name)
	now := time.Now()
	st.health.Status = StreamActive
	st.health.ConnectedSince = &now
	st.health.LastError = ""
}

// SetStreamDisconnected marks a stream down, with an optional error.
func (m *Monitor) SetStreamDisconnected(name, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.registerLocked(name)
	st.health.Status = StreamDisconnected
	st.health.ConnectedSince = nil
	st.health.LastError = errMsg
}

// RecordEvent notes one event on a stream and refreshes its window.
func (m *Monitor) RecordEvent(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.registerLocked(name)
	now := time.Now()

	st.health.EventsReceived++
	st.health.LastEventTime = &now
	st.health.Status = StreamActive

	cutoff := now.Add(-throughputWindow)
	window := append(st.window, now)
	keep := 0
	for keep < len(window) && !window[keep].After(cutoff) {
		keep++
	}
	st.window = window[keep:]
}

// throughputLocked computes events/s over the sliding window.
func (m *Monitor) throughputLocked(st *streamState, now time.Time) float64 {
	cutoff := now.Add(-throughputWindow)
	count := 0
	for _, t := range st.window {
		if t.After(cutoff) {
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return float64(count) / throughputWindow.Seconds()
}

// checkStalenessLocked downgrades streams that stopped producing.
func (m *Monitor) checkStalenessLocked(now time.Time) {
	for _, st := range m.streams {
		h := &st.health
		if h.Status == StreamDisconnected {
			continue
		}
		switch {
		case h.LastEventTime != nil:
			if now.Sub(*h.LastEventTime) > m.staleThreshold {
				h.Status = StreamStale
			} else {
				h.Status = StreamActive
			}
		case h.ConnectedSince != nil:
			// Connected but silent since the start.
			if now.Sub(*h.ConnectedSince) > m.staleThreshold {
				h.Status = StreamStale
			}
		}
	}
}

func (m *Monitor) overallLocked() Status {
	if len(m.streams) == 0 {
		return StatusHealthy
	}
	allDisconnected := true
	anyBad := false
	for _, st := range m.streams {
		switch st.health.Status {
		case StreamDisconnected:
			anyBad = true
		case StreamStale:
			anyBad = true
			allDisconnected = false
		default:
			allDisconnected = false
		}
	}
	switch {
	case allDisconnected:
		return StatusUnhealthy
	case anyBad:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// Report snapshots every stream and the overall verdict.
func (m *Monitor) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.checkStalenessLocked(now)

	report := Report{
		Streams:   make(map[string]StreamHealth, len(m.streams)),
		Timestamp: now,
	}
	for name, st := range m.streams {
		st.health.EventsPerSecond = m.throughputLocked(st, now)
		report.Streams[name] = st.health
		report.TotalEventsReceived += st.health.EventsReceived
		report.TotalEventsPerSecond += st.health.EventsPerSecond
	}
	report.Status = m.overallLocked()
	if !m.startTime.IsZero() {
		report.UptimeSeconds = now.Sub(m.startTime).Seconds()
	}
	return report
}

// Start launches the periodic check loop. Idempotent.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.startTime = time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.checkLoop(ctx)
	m.logger.Info("health monitor started")
}

// Stop halts the check loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info("health monitor stopped")
}

// IsRunning reports whether the check loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) checkLoop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := m.Report()

			m.mu.Lock()
			changed := report.Status != m.lastStatus
			if changed {
				m.lastStatus = report.Status
			}
			cb := m.onChange
			m.mu.Unlock()

			if changed {
				m.logger.Info("health status changed", "status", string(report.Status))
				if cb != nil {
					cb(report)
				}
			}
		}
	}
}
