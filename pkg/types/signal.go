package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Detector signals
// ————————————————————————————————————————————————————————————————————————
// Each signal carries the triggering trade by value, a confidence in
// [0,1], and a factor map recording every contribution for auditability.

// FreshWalletSignal fires when a fresh wallet makes a trade.
type FreshWalletSignal struct {
	TradeEvent    TradeEvent
	WalletProfile WalletProfile
	Confidence    float64
	Factors       map[string]float64
	Timestamp     time.Time
}

// WalletAddress returns the trader's wallet from the triggering trade.
func (s FreshWalletSignal) WalletAddress() string { return s.TradeEvent.WalletAddress }

// MarketID returns the market of the triggering trade.
func (s FreshWalletSignal) MarketID() string { return s.TradeEvent.MarketID }

// TradeSizeUSDC returns the notional of the triggering trade.
func (s FreshWalletSignal) TradeSizeUSDC() decimal.Decimal { return s.TradeEvent.NotionalValue() }

// SizeAnomalySignal fires when a trade's size materially impacts the
// market's 24h volume or top-of-book depth.
type SizeAnomalySignal struct {
	TradeEvent     TradeEvent
	MarketMetadata MarketMetadata
	VolumeImpact   float64 // notional / 24h volume, 0 when volume unknown
	BookImpact     float64 // notional / top-of-book depth, 0 when unknown
	IsNicheMarket  bool
	Confidence     float64
	Factors        map[string]float64
	Timestamp      time.Time
}

// WalletAddress returns the trader's wallet from the triggering trade.
func (s SizeAnomalySignal) WalletAddress() string { return s.TradeEvent.WalletAddress }

// MarketID returns the market of the triggering trade.
func (s SizeAnomalySignal) MarketID() string { return s.TradeEvent.MarketID }

// TradeSizeUSDC returns the notional of the triggering trade.
func (s SizeAnomalySignal) TradeSizeUSDC() decimal.Decimal { return s.TradeEvent.NotionalValue() }

// SniperClusterSignal fires when a wallet is identified as part of a
// group of wallets coordinating early market entries.
type SniperClusterSignal struct {
	WalletAddress        string
	ClusterID            string
	ClusterSize          int
	AvgEntryDeltaSeconds float64
	MarketsInCommon      int
	Confidence           float64
	Timestamp            time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Risk assessment
// ————————————————————————————————————————————————————————————————————————

// RiskAssessment is the scorer's output: the trade plus whichever signals
// fired, a weighted score, and the alert decision.
type RiskAssessment struct {
	TradeEvent    TradeEvent
	WalletAddress string
	MarketID      string

	// nil when the detector did not fire
	FreshWalletSignal   *FreshWalletSignal
	SizeAnomalySignal   *SizeAnomalySignal
	SniperClusterSignal *SniperClusterSignal

	SignalsTriggered int
	WeightedScore    float64
	ShouldAlert      bool

	AssessmentID string
	Timestamp    time.Time
}

// NewAssessmentID generates a unique assessment identifier.
func NewAssessmentID() string { return uuid.NewString() }

// IsHighRisk reports whether the weighted score reaches 0.7.
func (a RiskAssessment) IsHighRisk() bool { return a.WeightedScore >= 0.7 }

// IsVeryHighRisk reports whether the weighted score reaches 0.85.
func (a RiskAssessment) IsVeryHighRisk() bool { return a.WeightedScore >= 0.85 }

// TradeSizeUSDC returns the notional of the assessed trade.
func (a RiskAssessment) TradeSizeUSDC() decimal.Decimal { return a.TradeEvent.NotionalValue() }

// SignalNames lists the signals that fired, in scorer weight order.
func (a RiskAssessment) SignalNames() []string {
	var names []string
	if a.FreshWalletSignal != nil {
		names = append(names, "fresh_wallet")
	}
	if a.SizeAnomalySignal != nil {
		names = append(names, "size_anomaly")
	}
	if a.SniperClusterSignal != nil {
		names = append(names, "sniper_cluster")
	}
	return names
}
