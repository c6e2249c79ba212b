package bus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"polymarket-tracker/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleTrade() types.TradeEvent {
	return types.TradeEvent{
		MarketID:      "0xcond",
		TradeID:       "0xtx1",
		WalletAddress: "0xwallet",
		Side:          types.BUY,
		Outcome:       "Yes",
		OutcomeIndex:  0,
		Price:         decimal.RequireFromString("0.075"),
		Size:          decimal.RequireFromString("200000"),
		Timestamp:     time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
		AssetID:       "tok-yes",
		MarketSlug:    "will-x-happen",
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	t.Parallel()

	ev := sampleTrade()
	values := serialize(ev)

	// Stream values arrive back as map[string]any with string values.
	back := deserialize(values)

	if back.TradeID != ev.TradeID || back.MarketID != ev.MarketID {
		t.Errorf("ids: %+v", back)
	}
	if !back.Price.Equal(ev.Price) || !back.Size.Equal(ev.Size) {
		t.Errorf("price/size: %s %s", back.Price, back.Size)
	}
	if !back.Timestamp.Equal(ev.Timestamp) {
		t.Errorf("timestamp = %v, want %v", back.Timestamp, ev.Timestamp)
	}
	if back.Side != types.BUY {
		t.Errorf("side = %s", back.Side)
	}
}

func TestDeserializeTolerance(t *testing.T) {
	t.Parallel()

	ev := deserialize(map[string]any{
		"trade_id":  "0xtx",
		"side":      "SELL",
		"price":     "not-a-number",
		"timestamp": "garbage",
	})
	if ev.Side != types.SELL {
		t.Errorf("side = %s", ev.Side)
	}
	if !ev.Price.IsZero() || !ev.Size.IsZero() {
		t.Errorf("price/size = %s/%s, want zero", ev.Price, ev.Size)
	}
	if time.Since(ev.Timestamp) > time.Minute {
		t.Errorf("timestamp fallback too old: %v", ev.Timestamp)
	}
}

func TestEnsureGroup(t *testing.T) {
	t.Parallel()

	rdb, mock := redismock.NewClientMock()
	b := New(rdb, "", 0, testLogger())

	mock.ExpectXGroupCreateMkStream("trades", "detectors", "0").SetVal("OK")
	created, err := b.EnsureGroup(context.Background(), "detectors", "")
	if err != nil || !created {
		t.Fatalf("EnsureGroup = %v, %v", created, err)
	}

	mock.ExpectXGroupCreateMkStream("trades", "detectors", "0").
		SetErr(errors.New("BUSYGROUP Consumer Group name already exists"))
	created, err = b.EnsureGroup(context.Background(), "detectors", "")
	if err != nil {
		t.Fatalf("EnsureGroup existing: %v", err)
	}
	if created {
		t.Error("existing group reported as created")
	}
}

func TestAck(t *testing.T) {
	t.Parallel()

	rdb, mock := redismock.NewClientMock()
	b := New(rdb, "", 0, testLogger())

	mock.ExpectXAck("trades", "detectors", "1-0", "1-1").SetVal(2)
	n, err := b.Ack(context.Background(), "detectors", "1-0", "1-1")
	if err != nil || n != 2 {
		t.Errorf("Ack = %d, %v", n, err)
	}

	// No IDs is a no-op without a Redis call.
	if n, err := b.Ack(context.Background(), "detectors"); err != nil || n != 0 {
		t.Errorf("empty Ack = %d, %v", n, err)
	}
}

func TestLenAndTrim(t *testing.T) {
	t.Parallel()

	rdb, mock := redismock.NewClientMock()
	b := New(rdb, "", 0, testLogger())

	mock.ExpectXLen("trades").SetVal(42)
	if n, err := b.Len(context.Background()); err != nil || n != 42 {
		t.Errorf("Len = %d, %v", n, err)
	}

	mock.ExpectXTrimMaxLen("trades", 1000).SetVal(7)
	if n, err := b.Trim(context.Background(), 1000); err != nil || n != 7 {
		t.Errorf("Trim = %d, %v", n, err)
	}
}

func TestInfo(t *testing.T) {
	t.Parallel()

	rdb, mock := redismock.NewClientMock()
	b := New(rdb, "", 0, testLogger())

	mock.ExpectXInfoStream("trades").SetVal(&redis.XInfoStream{Length: 5, Groups: 2})
	info, err := b.Info(context.Background())
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Length != 5 || info.Groups != 2 {
		t.Errorf("info = %+v", info)
	}
}

func TestPendingMissingGroup(t *testing.T) {
	t.Parallel()

	rdb, mock := redismock.NewClientMock()
	b := New(rdb, "", 0, testLogger())

	mock.ExpectXPending("trades", "ghosts").
		SetErr(errors.New("NOGROUP No such consumer group"))
	n, err := b.Pending(context.Background(), "ghosts")
	if err != nil || n != 0 {
		t.Errorf("Pending = %d, %v", n, err)
	}
}
