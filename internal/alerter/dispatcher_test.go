package alerter

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"polymarket-tracker/pkg/types"
)

// fakeChannel scripts delivery outcomes and counts invocations.
type fakeChannel struct {
	name  string
	err   error
	calls atomic.Int32
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Send(ctx context.Context, alert types.FormattedAlert) error {
	c.calls.Add(1)
	return c.err
}

func TestDispatchFanOut(t *testing.T) {
	t.Parallel()

	good := &fakeChannel{name: "discord"}
	bad := &fakeChannel{name: "telegram", err: errors.New("boom")}
	d := NewDispatcher([]Channel{good, bad}, DispatcherConfig{}, nil, testLogger())

	result := d.Dispatch(context.Background(), testAlert())

	if result.SuccessCount != 1 || result.FailureCount != 1 {
		t.Errorf("result = %d/%d", result.SuccessCount, result.FailureCount)
	}
	if !result.ChannelResults["discord"] || result.ChannelResults["telegram"] {
		t.Errorf("channel results = %v", result.ChannelResults)
	}
	if result.AllSucceeded() {
		t.Error("AllSucceeded with a failure")
	}
}

func TestDispatchNoChannels(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(nil, DispatcherConfig{}, nil, testLogger())

	result := d.Dispatch(context.Background(), testAlert())
	if result.AllSucceeded() {
		t.Error("empty dispatch counted as success")
	}
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{name: "discord", err: errors.New("webhook down")}
	d := NewDispatcher([]Channel{ch}, DispatcherConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  time.Hour,
	}, nil, testLogger())

	for i := 0; i < 5; i++ {
		d.Dispatch(context.Background(), testAlert())
	}
	if got := ch.calls.Load(); got != 5 {
		t.Fatalf("calls before open = %d, want 5", got)
	}

	// Circuit is open now: further dispatches never reach the channel.
	result := d.Dispatch(context.Background(), testAlert())
	if got := ch.calls.Load(); got != 5 {
		t.Errorf("calls after open = %d, want 5", got)
	}
	if result.ChannelResults["discord"] {
		t.Error("open circuit reported success")
	}

	status := d.CircuitStatuses()["discord"]
	if status.State != "open" {
		t.Errorf("state = %q, want open", status.State)
	}
}

func TestCircuitClosesOnSuccess(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{name: "discord", err: errors.New("flaky")}
	d := NewDispatcher([]Channel{ch}, DispatcherConfig{FailureThreshold: 5}, nil, testLogger())

	// Four failures, then recovery: consecutive count resets, circuit
	// stays closed.
	for i := 0; i < 4; i++ {
		d.Dispatch(context.Background(), testAlert())
	}
	ch.err = nil
	result := d.Dispatch(context.Background(), testAlert())
	if !result.AllSucceeded() {
		t.Error("recovered channel did not succeed")
	}

	status := d.CircuitStatuses()["discord"]
	if status.State != "closed" {
		t.Errorf("state = %q, want closed", status.State)
	}
	if status.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures = %d", status.ConsecutiveFailures)
	}
}

func TestResetCircuit(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{name: "discord", err: errors.New("down")}
	d := NewDispatcher([]Channel{ch}, DispatcherConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Hour,
	}, nil, testLogger())

	d.Dispatch(context.Background(), testAlert())
	d.Dispatch(context.Background(), testAlert())
	if d.CircuitStatuses()["discord"].State != "open" {
		t.Fatal("circuit did not open")
	}

	if !d.ResetCircuit("discord") {
		t.Fatal("ResetCircuit failed")
	}
	if d.CircuitStatuses()["discord"].State != "closed" {
		t.Error("circuit still open after reset")
	}

	// A fresh circuit admits traffic again.
	ch.err = nil
	if result := d.Dispatch(context.Background(), testAlert()); !result.AllSucceeded() {
		t.Error("dispatch failed after reset")
	}

	if d.ResetCircuit("unknown") {
		t.Error("reset of unknown channel succeeded")
	}
}

func TestDispatchDryRun(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{name: "discord"}
	d := NewDispatcher([]Channel{ch}, DispatcherConfig{DryRun: true}, nil, testLogger())

	result := d.Dispatch(context.Background(), testAlert())
	if !result.AllSucceeded() {
		t.Error("dry run did not report success")
	}
	if ch.calls.Load() != 0 {
		t.Errorf("dry run hit the channel %d times", ch.calls.Load())
	}
}

func TestDispatchBatch(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{name: "discord"}
	d := NewDispatcher([]Channel{ch}, DispatcherConfig{}, nil, testLogger())

	results := d.DispatchBatch(context.Background(), []types.FormattedAlert{testAlert(), testAlert()})
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	if ch.calls.Load() != 2 {
		t.Errorf("calls = %d", ch.calls.Load())
	}
}
