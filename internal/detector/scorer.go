package detector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"polymarket-tracker/pkg/types"
)

const (
	// DefaultAlertThreshold is the minimum weighted score that alerts.
	DefaultAlertThreshold = 0.6

	// DefaultDedupWindow suppresses repeat alerts per wallet/market.
	DefaultDedupWindow = time.Hour

	dedupKeyPrefix = "polymarket:dedup:"

	multiSignalBonus2 = 1.2
	multiSignalBonus3 = 1.3
)

// DefaultWeights maps signal kinds to their scoring weight.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"fresh_wallet": 0.40,
		"size_anomaly": 0.35,
		"niche_market": 0.25,
	}
}

// SignalBundle collects the signals that fired for one trade.
type SignalBundle struct {
	TradeEvent          types.TradeEvent
	FreshWalletSignal   *types.FreshWalletSignal
	SizeAnomalySignal   *types.SizeAnomalySignal
	SniperClusterSignal *types.SniperClusterSignal
}

// ScorerConfig tunes the risk scorer. Zero values take defaults.
type ScorerConfig struct {
	Weights        map[string]float64
	AlertThreshold float64
	DedupWindow    time.Duration
}

// Scorer combines detector signals into a weighted risk assessment,
// with a Redis SETNX dedup window to stop alert spam per wallet/market.
type Scorer struct {
	redis          *redis.Client
	alertThreshold float64
	dedupWindow    time.Duration
	logger         *slog.Logger

	mu      sync.RWMutex
	weights map[string]float64
}

// NewScorer creates a risk scorer.
func NewScorer(rdb *redis.Client, cfg ScorerConfig, logger *slog.Logger) *Scorer {
	if cfg.Weights == nil {
		cfg.Weights = DefaultWeights()
	}
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = DefaultAlertThreshold
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	return &Scorer{
		redis:          rdb,
		alertThreshold: cfg.AlertThreshold,
		dedupWindow:    cfg.DedupWindow,
		logger:         logger.With("component", "scorer"),
		weights:        cfg.Weights,
	}
}

// WeightedScore computes the combined score and triggered-signal count
// for a bundle without touching dedup state.
func (s *Scorer) WeightedScore(bundle SignalBundle) (float64, int) {
	s.mu.RLock()
	weights := s.weights
	s.mu.RUnlock()

	score := 0.0
	triggered := 0

	if bundle.FreshWalletSignal != nil {
		score += bundle.FreshWalletSignal.Confidence * weights["fresh_wallet"]
		triggered++
	}
	if bundle.SizeAnomalySignal != nil {
		score += bundle.SizeAnomalySignal.Confidence * weights["size_anomaly"]
		triggered++

		// Niche markets earn the extra niche weight on top.
		if bundle.SizeAnomalySignal.IsNicheMarket {
			score += bundle.SizeAnomalySignal.Confidence * weights["niche_market"]
		}
	}
	if bundle.SniperClusterSignal != nil {
		triggered++
		// No default weight; sniper membership counts toward the
		// multi-signal bonus unless a weight is configured.
		if w, ok := weights["sniper_cluster"]; ok {
			score += bundle.SniperClusterSignal.Confidence * w
		}
	}

	switch {
	case triggered >= 3:
		score *= multiSignalBonus3
	case triggered >= 2:
		score *= multiSignalBonus2
	}
	if score > 1.0 {
		score = 1.0
	}
	return score, triggered
}

// Assess scores a bundle, applies the dedup window, and returns the
// final assessment. The dedup key is only consumed when the score
// crosses the alert threshold.
func (s *Scorer) Assess(ctx context.Context, bundle SignalBundle) (types.RiskAssessment, error) {
	score, triggered := s.WeightedScore(bundle)
	meetsThreshold := score >= s.alertThreshold

	isDuplicate := false
	if meetsThreshold {
		dup, err := s.checkAndSetDedup(ctx, bundle.TradeEvent.WalletAddress, bundle.TradeEvent.MarketID)
		if err != nil {
			return types.RiskAssessment{}, err
		}
		isDuplicate = dup
	}

	shouldAlert := meetsThreshold && !isDuplicate

	if shouldAlert {
		s.logger.Info("risk assessment triggered alert",
			"wallet", bundle.TradeEvent.WalletAddress,
			"market", bundle.TradeEvent.MarketID,
			"score", score,
			"signals", triggered,
		)
	} else if isDuplicate {
		s.logger.Debug("risk assessment deduplicated",
			"wallet", bundle.TradeEvent.WalletAddress,
			"market", bundle.TradeEvent.MarketID,
		)
	}

	return types.RiskAssessment{
		TradeEvent:          bundle.TradeEvent,
		WalletAddress:       bundle.TradeEvent.WalletAddress,
		MarketID:            bundle.TradeEvent.MarketID,
		FreshWalletSignal:   bundle.FreshWalletSignal,
		SizeAnomalySignal:   bundle.SizeAnomalySignal,
		SniperClusterSignal: bundle.SniperClusterSignal,
		SignalsTriggered:    triggered,
		WeightedScore:       score,
		ShouldAlert:         shouldAlert,
		AssessmentID:        types.NewAssessmentID(),
		Timestamp:           time.Now().UTC(),
	}, nil
}

// AssessBatch assesses bundles sequentially, preserving order.
func (s *Scorer) AssessBatch(ctx context.Context, bundles []SignalBundle) ([]types.RiskAssessment, error) {
	assessments := make([]types.RiskAssessment, 0, len(bundles))
	for _, bundle := range bundles {
		a, err := s.Assess(ctx, bundle)
		if err != nil {
			return assessments, err
		}
		assessments = append(assessments, a)
	}
	return assessments, nil
}

func dedupKey(wallet, market string) string {
	return dedupKeyPrefix + wallet + ":" + market
}

// checkAndSetDedup atomically claims the wallet/market dedup slot.
// Returns true when the slot was already taken (duplicate).
func (s *Scorer) checkAndSetDedup(ctx context.Context, wallet, market string) (bool, error) {
	set, err := s.redis.SetNX(ctx, dedupKey(wallet, market),
		time.Now().UTC().Format(time.RFC3339), s.dedupWindow).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !set, nil
}

// ClearDedup removes the dedup key for a wallet/market combination,
// reporting whether it existed. Intended for manual overrides.
func (s *Scorer) ClearDedup(ctx context.Context, wallet, market string) (bool, error) {
	n, err := s.redis.Del(ctx, dedupKey(wallet, market)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Weights returns a copy of the current signal weights.
func (s *Scorer) Weights() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.weights))
	for k, v := range s.weights {
		out[k] = v
	}
	return out
}

// SetWeights replaces the signal weights at runtime.
func (s *Scorer) SetWeights(weights map[string]float64) {
	copied := make(map[string]float64, len(weights))
	for k, v := range weights {
		copied[k] = v
	}
	s.mu.Lock()
	s.weights = copied
	s.mu.Unlock()
	s.logger.Info("updated scorer weights", "weights", copied)
}
