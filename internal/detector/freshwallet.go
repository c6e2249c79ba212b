// Package detector implements the anomaly detectors and the composite
// risk scorer: fresh-wallet, size-anomaly, and sniper-cluster signals
// combined into weighted, deduplicated risk assessments.
package detector

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-tracker/internal/profiler"
	"polymarket-tracker/pkg/types"
)

// DefaultLargeTradeThreshold is the notional (USDC) above which a trade
// adds the large-trade confidence bonus.
var DefaultLargeTradeThreshold = decimal.NewFromInt(10_000)

// FreshWalletDetector flags trades made by wallets with little on-chain
// history. Confidence starts at 0.5 for any fresh wallet, with bonuses
// for a zero nonce and for large notional.
type FreshWalletDetector struct {
	analyzer       *profiler.Analyzer
	largeThreshold decimal.Decimal
	logger         *slog.Logger
}

// NewFreshWalletDetector creates a fresh-wallet detector. A zero
// largeThreshold takes the default.
func NewFreshWalletDetector(analyzer *profiler.Analyzer, largeThreshold decimal.Decimal, logger *slog.Logger) *FreshWalletDetector {
	if largeThreshold.IsZero() {
		largeThreshold = DefaultLargeTradeThreshold
	}
	return &FreshWalletDetector{
		analyzer:       analyzer,
		largeThreshold: largeThreshold,
		logger:         logger.With("component", "fresh_wallet_detector"),
	}
}

// Detect profiles the trader and returns a signal when the wallet is
// fresh, nil otherwise. Profile lookup errors propagate so the caller
// can retry the event.
func (d *FreshWalletDetector) Detect(ctx context.Context, trade types.TradeEvent) (*types.FreshWalletSignal, error) {
	profile, err := d.analyzer.Analyze(ctx, trade.WalletAddress, false)
	if err != nil {
		return nil, err
	}
	return d.Evaluate(trade, profile), nil
}

// Evaluate scores a trade against an already-resolved profile.
func (d *FreshWalletDetector) Evaluate(trade types.TradeEvent, profile types.WalletProfile) *types.FreshWalletSignal {
	if !profile.IsFresh {
		return nil
	}

	factors := map[string]float64{"fresh_base": 0.5}
	confidence := 0.5

	if profile.Nonce == 0 {
		factors["zero_nonce"] = 0.2
		confidence += 0.2
	}
	if trade.NotionalValue().GreaterThanOrEqual(d.largeThreshold) {
		factors["large_trade"] = 0.1
		confidence += 0.1
	}
	if confidence > 1.0 {
		confidence = 1.0
	}

	d.logger.Debug("fresh wallet signal",
		"wallet", trade.WalletAddress,
		"nonce", profile.Nonce,
		"confidence", confidence,
	)

	return &types.FreshWalletSignal{
		TradeEvent:    trade,
		WalletProfile: profile,
		Confidence:    confidence,
		Factors:       factors,
		Timestamp:     time.Now().UTC(),
	}
}
