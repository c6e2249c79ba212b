package alerter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"polymarket-tracker/pkg/types"
)

func testAlert() types.FormattedAlert {
	return types.FormattedAlert{
		Title: "🚨 Suspicious Activity Detected - HIGH Risk",
		DiscordEmbed: types.DiscordEmbed{
			Title: "🚨 Suspicious Activity Detected",
			Color: colorHighRisk,
		},
		TelegramMarkdown: "🚨 *Suspicious Activity Detected*",
		PlainText:        "SUSPICIOUS ACTIVITY DETECTED",
	}
}

func TestDiscordSendSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewDiscordChannel(srv.URL, testLogger())
	if err := ch.Send(context.Background(), testAlert()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d", calls.Load())
	}
}

func TestDiscordSendRetriesAfterRateLimit(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"retry_after": 0.01}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewDiscordChannel(srv.URL, testLogger())
	if err := ch.Send(context.Background(), testAlert()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestDiscordSendExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch := NewDiscordChannel(srv.URL, testLogger())
	ch.retryDelay = time.Millisecond

	err := ch.Send(context.Background(), testAlert())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("err = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestTelegramSendSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok": true, "result": {"message_id": 1}}`))
	}))
	defer srv.Close()

	ch := NewTelegramChannel("token", "-100123", testLogger())
	ch.apiURL = srv.URL

	if err := ch.Send(context.Background(), testAlert()); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestTelegramSendRetriesAfterRateLimit(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Write([]byte(`{"ok": false, "error_code": 429, "parameters": {"retry_after": 0.01}}`))
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	ch := NewTelegramChannel("token", "-100123", testLogger())
	ch.apiURL = srv.URL

	if err := ch.Send(context.Background(), testAlert()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestTelegramSendAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok": false, "error_code": 400, "description": "Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	ch := NewTelegramChannel("token", "bogus", testLogger())
	ch.apiURL = srv.URL
	ch.retryDelay = time.Millisecond

	err := ch.Send(context.Background(), testAlert())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("err = %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	if d := parseRetryAfter([]byte(`{"retry_after": 2.5}`)); d != 2500*time.Millisecond {
		t.Errorf("retry_after = %v", d)
	}
	// Garbage falls back to one second.
	if d := parseRetryAfter([]byte("nope")); d != time.Second {
		t.Errorf("fallback = %v", d)
	}
}
