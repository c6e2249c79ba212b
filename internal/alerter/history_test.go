package alerter

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"

	"polymarket-tracker/pkg/types"
)

func newHistory(t *testing.T) (*History, redismock.ClientMock) {
	t.Helper()
	rdb, mock := redismock.NewClientMock()
	return NewHistory(rdb, HistoryConfig{}, testLogger()), mock
}

func TestHistoryDedupKey(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)
	got := historyDedupKey("0xwallet", "0xcond", at)
	if got != "0xwallet:0xcond:2026030114" {
		t.Errorf("dedup key = %q", got)
	}
}

func TestShouldSend(t *testing.T) {
	t.Parallel()
	h, mock := newHistory(t)

	a := types.RiskAssessment{WalletAddress: "0xwallet", MarketID: "0xcond"}

	mock.Regexp().ExpectExists(`alert:dedup:0xwallet:0xcond:\d{10}`).SetVal(0)
	ok, err := h.ShouldSend(context.Background(), a)
	if err != nil || !ok {
		t.Errorf("ShouldSend = %v, %v", ok, err)
	}

	mock.Regexp().ExpectExists(`alert:dedup:0xwallet:0xcond:\d{10}`).SetVal(1)
	ok, err = h.ShouldSend(context.Background(), a)
	if err != nil {
		t.Fatalf("ShouldSend: %v", err)
	}
	if ok {
		t.Error("duplicate hour bucket not suppressed")
	}
}

func TestRecordFeedback(t *testing.T) {
	t.Parallel()
	h, mock := newHistory(t)

	record := types.AlertRecord{
		AlertID:       "abc",
		WalletAddress: "0xwallet",
		MarketID:      "0xcond",
		WeightedScore: 0.9,
		CreatedAt:     time.Now().UTC(),
	}
	payload, _ := json.Marshal(record)

	mock.ExpectGet("alert:record:abc").SetVal(string(payload))
	mock.ExpectTTL("alert:record:abc").SetVal(time.Hour)
	mock.Regexp().ExpectSet("alert:record:abc", `.*"feedback_useful":true.*`, time.Hour).SetVal("OK")

	ok, err := h.RecordFeedback(context.Background(), "abc", true)
	if err != nil || !ok {
		t.Fatalf("RecordFeedback = %v, %v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRecordFeedbackUnknownAlert(t *testing.T) {
	t.Parallel()
	h, mock := newHistory(t)

	mock.ExpectGet("alert:record:missing").RedisNil()
	ok, err := h.RecordFeedback(context.Background(), "missing", true)
	if err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	if ok {
		t.Error("feedback accepted for unknown alert")
	}
}

func TestAlertLookup(t *testing.T) {
	t.Parallel()
	h, mock := newHistory(t)

	record := types.AlertRecord{
		AlertID:       "abc",
		WalletAddress: "0xwallet",
		MarketID:      "0xcond",
		WeightedScore: 0.72,
		SignalsFired:  []string{"fresh_wallet", "size_anomaly"},
		CreatedAt:     time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC),
	}
	payload, _ := json.Marshal(record)
	mock.ExpectGet("alert:record:abc").SetVal(string(payload))

	got, err := h.Alert(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Alert: %v", err)
	}
	if got == nil || got.WeightedScore != 0.72 || len(got.SignalsFired) != 2 {
		t.Errorf("record = %+v", got)
	}

	mock.ExpectGet("alert:record:nope").RedisNil()
	got, err = h.Alert(context.Background(), "nope")
	if err != nil || got != nil {
		t.Errorf("missing alert = %v, %v", got, err)
	}
}

func TestCleanupOldAlerts(t *testing.T) {
	t.Parallel()
	h, mock := newHistory(t)

	mock.Regexp().ExpectZRemRangeByScore(keyIndexTime, "-inf", `\d+`).SetVal(4)
	removed, err := h.CleanupOldAlerts(context.Background())
	if err != nil {
		t.Fatalf("CleanupOldAlerts: %v", err)
	}
	if removed != 4 {
		t.Errorf("removed = %d", removed)
	}
}
