package detector

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v9"

	"polymarket-tracker/pkg/types"
)

func newScorer(t *testing.T) (*Scorer, redismock.ClientMock) {
	t.Helper()
	rdb, mock := redismock.NewClientMock()
	return NewScorer(rdb, ScorerConfig{}, testLogger()), mock
}

func TestScoreFreshWhaleOnNicheMarket(t *testing.T) {
	t.Parallel()
	s, _ := newScorer(t)

	// Fresh wallet (nonce 2, large trade) plus niche-base size signal:
	// 0.6*0.40 + 0.2*0.35 + 0.2*0.25 = 0.36, x1.2 = 0.432, under 0.6.
	bundle := SignalBundle{
		TradeEvent:        trade("15000"),
		FreshWalletSignal: &types.FreshWalletSignal{Confidence: 0.6},
		SizeAnomalySignal: &types.SizeAnomalySignal{Confidence: 0.2, IsNicheMarket: true},
	}

	score, triggered := s.WeightedScore(bundle)
	approx(t, "score", score, 0.432)
	if triggered != 2 {
		t.Errorf("triggered = %d, want 2", triggered)
	}

	// Under the threshold: no dedup key is touched.
	a, err := s.Assess(context.Background(), bundle)
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if a.ShouldAlert {
		t.Error("alert below threshold")
	}
	if a.AssessmentID == "" {
		t.Error("missing assessment id")
	}
}

func TestScoreSingleSizeSignal(t *testing.T) {
	t.Parallel()
	s, _ := newScorer(t)

	// A lone size signal on a main market: 0.8*0.35 = 0.28, no bonus.
	bundle := SignalBundle{
		TradeEvent:        trade("50000"),
		SizeAnomalySignal: &types.SizeAnomalySignal{Confidence: 0.8},
	}
	score, triggered := s.WeightedScore(bundle)
	approx(t, "score", score, 0.28)
	if triggered != 1 {
		t.Errorf("triggered = %d, want 1", triggered)
	}
}

func TestScoreFreshPlusSizeOnNicheAlerts(t *testing.T) {
	t.Parallel()
	s, mock := newScorer(t)

	// 0.7*0.40 + 1.0*0.35 + 1.0*0.25 = 0.88, x1.2 = 1.056, capped at 1.0.
	bundle := SignalBundle{
		TradeEvent:        trade("6500"),
		FreshWalletSignal: &types.FreshWalletSignal{Confidence: 0.7},
		SizeAnomalySignal: &types.SizeAnomalySignal{Confidence: 1.0, IsNicheMarket: true},
	}

	mock.Regexp().ExpectSetNX("polymarket:dedup:0xwallet:0xcond", `.*`, DefaultDedupWindow).
		SetVal(true)

	a, err := s.Assess(context.Background(), bundle)
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	approx(t, "score", a.WeightedScore, 1.0)
	if !a.ShouldAlert {
		t.Error("expected alert")
	}
	if !a.IsVeryHighRisk() {
		t.Error("capped score not very high risk")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestScoreDeduplication(t *testing.T) {
	t.Parallel()
	s, mock := newScorer(t)

	bundle := SignalBundle{
		TradeEvent:        trade("6500"),
		FreshWalletSignal: &types.FreshWalletSignal{Confidence: 0.9},
		SizeAnomalySignal: &types.SizeAnomalySignal{Confidence: 1.0, IsNicheMarket: true},
	}

	// Dedup slot already taken: score stays high but no alert fires.
	mock.Regexp().ExpectSetNX("polymarket:dedup:0xwallet:0xcond", `.*`, DefaultDedupWindow).
		SetVal(false)

	a, err := s.Assess(context.Background(), bundle)
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if a.ShouldAlert {
		t.Error("duplicate alerted")
	}
	if a.WeightedScore < DefaultAlertThreshold {
		t.Errorf("score = %v", a.WeightedScore)
	}
}

func TestClearDedup(t *testing.T) {
	t.Parallel()
	s, mock := newScorer(t)

	mock.ExpectDel("polymarket:dedup:0xw:0xm").SetVal(1)
	ok, err := s.ClearDedup(context.Background(), "0xw", "0xm")
	if err != nil || !ok {
		t.Errorf("ClearDedup = %v, %v", ok, err)
	}
}

func TestTripleSignalBonus(t *testing.T) {
	t.Parallel()
	s, _ := newScorer(t)

	bundle := SignalBundle{
		TradeEvent:          trade("1000"),
		FreshWalletSignal:   &types.FreshWalletSignal{Confidence: 0.5},
		SizeAnomalySignal:   &types.SizeAnomalySignal{Confidence: 0.4},
		SniperClusterSignal: &types.SniperClusterSignal{Confidence: 0.9},
	}
	// 0.5*0.40 + 0.4*0.35 = 0.34, x1.3 triple bonus = 0.442. The sniper
	// signal has no default weight but counts toward the bonus.
	score, triggered := s.WeightedScore(bundle)
	if triggered != 3 {
		t.Errorf("triggered = %d, want 3", triggered)
	}
	approx(t, "score", score, 0.442)
}

func TestSetWeights(t *testing.T) {
	t.Parallel()
	s, _ := newScorer(t)

	s.SetWeights(map[string]float64{"fresh_wallet": 1.0})
	bundle := SignalBundle{
		TradeEvent:        trade("1000"),
		FreshWalletSignal: &types.FreshWalletSignal{Confidence: 0.5},
	}
	score, _ := s.WeightedScore(bundle)
	approx(t, "score", score, 0.5)

	// Weights returns a copy; mutating it does not affect the scorer.
	w := s.Weights()
	w["fresh_wallet"] = 0
	score, _ = s.WeightedScore(bundle)
	approx(t, "score after copy mutation", score, 0.5)
}
