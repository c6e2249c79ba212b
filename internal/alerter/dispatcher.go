package alerter

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"polymarket-tracker/internal/metrics"
	"polymarket-tracker/pkg/types"
)

const (
	// DefaultFailureThreshold opens a channel's circuit after this many
	// consecutive delivery failures.
	DefaultFailureThreshold = 5

	// DefaultRecoveryTimeout is how long an open circuit waits before
	// letting probe deliveries through.
	DefaultRecoveryTimeout = 60 * time.Second

	// DefaultHalfOpenMax limits probe deliveries while half-open.
	DefaultHalfOpenMax = 3
)

// DispatchResult summarizes one fan-out across all channels.
type DispatchResult struct {
	SuccessCount   int
	FailureCount   int
	ChannelResults map[string]bool
	Timestamp      time.Time
}

// AllSucceeded reports whether at least one channel was attempted and
// none failed.
func (r DispatchResult) AllSucceeded() bool {
	return r.FailureCount == 0 && r.SuccessCount > 0
}

// CircuitStatus is the breaker snapshot for one channel.
type CircuitStatus struct {
	State               string
	ConsecutiveFailures uint32
	TotalFailures       uint32
}

// DispatcherConfig tunes circuit breaking. Zero values take defaults.
type DispatcherConfig struct {
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
	HalfOpenMax      uint32
	DryRun           bool
}

// Dispatcher fans a formatted alert out to every configured channel
// concurrently. Each channel sits behind its own circuit breaker so a
// dead webhook cannot stall or spam the others.
type Dispatcher struct {
	channels []Channel
	cfg      DispatcherConfig
	metrics  *metrics.Registry
	logger   *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewDispatcher creates a dispatcher over the given channels. metrics
// may be nil.
func NewDispatcher(channels []Channel, cfg DispatcherConfig, reg *metrics.Registry, logger *slog.Logger) *Dispatcher {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if cfg.HalfOpenMax == 0 {
		cfg.HalfOpenMax = DefaultHalfOpenMax
	}

	d := &Dispatcher{
		channels: channels,
		cfg:      cfg,
		metrics:  reg,
		logger:   logger.With("component", "dispatcher"),
		breakers: make(map[string]*gobreaker.CircuitBreaker, len(channels)),
	}
	for _, ch := range channels {
		d.breakers[ch.Name()] = d.newBreaker(ch.Name())
	}
	return d
}

func (d *Dispatcher) newBreaker(name string) *gobreaker.CircuitBreaker {
	threshold := d.cfg.FailureThreshold
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: d.cfg.HalfOpenMax,
		Timeout:     d.cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("alert channel circuit state changed",
				"channel", name, "from", from.String(), "to", to.String())
		},
	})
}

// Dispatch sends the alert to all channels concurrently and reports
// per-channel status.
func (d *Dispatcher) Dispatch(ctx context.Context, alert types.FormattedAlert) DispatchResult {
	result := DispatchResult{
		ChannelResults: make(map[string]bool, len(d.channels)),
		Timestamp:      time.Now().UTC(),
	}
	if len(d.channels) == 0 {
		d.logger.Warn("no alert channels configured")
		return result
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, ch := range d.channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			ok := d.sendToChannel(ctx, ch, alert)
			mu.Lock()
			result.ChannelResults[ch.Name()] = ok
			if ok {
				result.SuccessCount++
			} else {
				result.FailureCount++
			}
			mu.Unlock()
		}(ch)
	}
	wg.Wait()

	d.logger.Info("alert dispatched",
		"succeeded", result.SuccessCount,
		"failed", result.FailureCount,
	)
	return result
}

// DispatchBatch sends alerts sequentially, one fan-out per alert.
func (d *Dispatcher) DispatchBatch(ctx context.Context, alerts []types.FormattedAlert) []DispatchResult {
	results := make([]DispatchResult, 0, len(alerts))
	for _, alert := range alerts {
		results = append(results, d.Dispatch(ctx, alert))
	}
	return results
}

func (d *Dispatcher) sendToChannel(ctx context.Context, ch Channel, alert types.FormattedAlert) bool {
	name := ch.Name()

	if d.cfg.DryRun {
		d.logger.Info("dry run, alert not sent", "channel", name, "title", alert.Title)
		return true
	}

	d.mu.Lock()
	breaker := d.breakers[name]
	d.mu.Unlock()

	_, err := breaker.Execute(func() (any, error) {
		return nil, ch.Send(ctx, alert)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			d.logger.Debug("skipping channel, circuit open", "channel", name)
		} else {
			d.logger.Error("alert delivery failed", "channel", name, "error", err)
		}
		if d.metrics != nil {
			d.metrics.AlertsFailed.WithLabelValues(name).Inc()
		}
		return false
	}
	if d.metrics != nil {
		d.metrics.AlertsSent.WithLabelValues(name).Inc()
	}
	return true
}

// CircuitStatuses snapshots every channel's breaker.
func (d *Dispatcher) CircuitStatuses() map[string]CircuitStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]CircuitStatus, len(d.breakers))
	for name, b := range d.breakers {
		counts := b.Counts()
		out[name] = CircuitStatus{
			State:               b.State().String(),
			ConsecutiveFailures: counts.ConsecutiveFailures,
			TotalFailures:       counts.TotalFailures,
		}
	}
	return out
}

// ResetCircuit replaces a channel's breaker with a fresh closed one.
// Returns false when the channel is unknown.
func (d *Dispatcher) ResetCircuit(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.breakers[name]; !ok {
		return false
	}
	d.breakers[name] = d.newBreaker(name)
	d.logger.Info("circuit reset", "channel", name)
	return true
}
