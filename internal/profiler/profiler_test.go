package profiler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"

	"polymarket-tracker/internal/chain"
	"polymarket-tracker/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newOfflineAnalyzer(t *testing.T) (*Analyzer, redismock.ClientMock) {
	t.Helper()
	rdb, mock := redismock.NewClientMock()
	client, err := chain.NewClient(chain.ClientConfig{
		RPCURL: "http://127.0.0.1:0", // never reached in cache-hit tests
	}, nil, testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return NewAnalyzer(client, rdb, AnalyzerConfig{}, testLogger()), mock
}

func TestFreshnessRule(t *testing.T) {
	t.Parallel()
	a, _ := newOfflineAnalyzer(t)

	age := func(h float64) *float64 { return &h }

	cases := []struct {
		name     string
		nonce    int
		ageHours *float64
		want     bool
	}{
		{"zero nonce unknown age", 0, nil, true},
		{"low nonce recent", 2, age(2), true},
		{"nonce at threshold", 5, age(1), false},
		{"nonce above threshold", 10, nil, false},
		{"low nonce old wallet", 1, age(72), false},
		{"age exactly 48h", 1, age(48), true},
		{"age just over 48h", 1, age(48.01), false},
	}
	for _, tc := range cases {
		if got := a.isFresh(tc.nonce, tc.ageHours); got != tc.want {
			t.Errorf("%s: isFresh(%d, %v) = %v, want %v",
				tc.name, tc.nonce, tc.ageHours, got, tc.want)
		}
	}
}

func TestAnalyzeCacheHit(t *testing.T) {
	t.Parallel()
	a, mock := newOfflineAnalyzer(t)

	cached := types.WalletProfile{
		Address:        "0xabc0000000000000000000000000000000000001",
		Nonce:          1,
		IsFresh:        true,
		MaticBalance:   decimal.RequireFromString("1000000000000000000"),
		USDCBalance:    decimal.RequireFromString("50000"),
		AnalyzedAt:     time.Now().UTC(),
		FreshThreshold: 5,
	}
	raw, _ := json.Marshal(cached)
	mock.ExpectGet("wallet_profile:0xabc0000000000000000000000000000000000001").
		SetVal(string(raw))

	got, err := a.Analyze(context.Background(), "0xABC0000000000000000000000000000000000001", false)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !got.IsFresh || got.Nonce != 1 {
		t.Errorf("profile = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestFreshnessScoreFromProfile(t *testing.T) {
	t.Parallel()

	age := 2.0
	p := types.WalletProfile{Nonce: 2, AgeHours: &age, FreshThreshold: 5}
	// 0.6 * (1 - 2/5) + 0.4 * (1 - 2/48)
	want := 0.6*0.6 + 0.4*(1.0-2.0/48.0)
	if got := p.FreshnessScore(); got < want-1e-9 || got > want+1e-9 {
		t.Errorf("FreshnessScore = %v, want %v", got, want)
	}
}

func newOfflineTracer(t *testing.T) *Tracer {
	t.Helper()
	client, err := chain.NewClient(chain.ClientConfig{
		RPCURL: "http://127.0.0.1:0",
	}, nil, testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return NewTracer(client, nil, 0, testLogger())
}

func TestTraceTerminalTarget(t *testing.T) {
	t.Parallel()
	tr := newOfflineTracer(t)

	// A Binance hot wallet terminates the trace before any RPC call.
	binance := "0x28C6C06298D514DB089934071355E5743BF21D60"
	c := tr.Trace(context.Background(), binance)

	if c.OriginType != string(chain.EntityCEXBinance) {
		t.Errorf("origin type = %s", c.OriginType)
	}
	if c.HopCount != 0 || len(c.Chain) != 0 {
		t.Errorf("chain = %+v", c)
	}
	if !c.IsCEXOrigin() {
		t.Error("CEX origin not recognized")
	}
}

func TestSuspiciousnessScore(t *testing.T) {
	t.Parallel()
	tr := newOfflineTracer(t)

	cases := []struct {
		name  string
		chain types.FundingChain
		want  float64
	}{
		{"cex origin", types.FundingChain{OriginType: "cex_binance"}, 0.1},
		{"bridge origin", types.FundingChain{OriginType: "bridge_polygon"}, 0.3},
		{"unknown no hops", types.FundingChain{OriginType: "unknown", HopCount: 0}, 1.0},
		{"unknown at max hops", types.FundingChain{OriginType: "unknown", HopCount: 3}, 0.7},
		{"unknown one hop", types.FundingChain{OriginType: "unknown", HopCount: 1}, 0.5 + 0.3*(1.0-1.0/3.0)},
		{"unknown two hops", types.FundingChain{OriginType: "unknown", HopCount: 2}, 0.5 + 0.3*(1.0-2.0/3.0)},
	}
	for _, tc := range cases {
		got := tr.SuspiciousnessScore(tc.chain)
		if got < tc.want-1e-9 || got > tc.want+1e-9 {
			t.Errorf("%s: score = %v, want %v", tc.name, got, tc.want)
		}
	}
}
