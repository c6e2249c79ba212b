package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Wallet profiling
// ————————————————————————————————————————————————————————————————————————

var weiPerMatic = decimal.New(1, 18)

// Transaction is a single Polygon transaction, as returned by the chain
// client when resolving a wallet's first activity.
type Transaction struct {
	Hash        string
	BlockNumber uint64
	Timestamp   time.Time
	From        string
	To          string
	Value       decimal.Decimal // wei
}

// WalletInfo is the raw aggregate of the chain client's wallet queries.
type WalletInfo struct {
	Address          string
	TransactionCount int // nonce
	BalanceWei       decimal.Decimal
	FirstTransaction *Transaction // nil when no indexer is available
}

// BalanceMATIC returns the native balance in MATIC.
func (w WalletInfo) BalanceMATIC() decimal.Decimal {
	return w.BalanceWei.Div(weiPerMatic)
}

// WalletProfile is the analyzer's verdict on a wallet. Immutable; cached
// by address with TTL.
type WalletProfile struct {
	Address   string     `json:"address"`
	Nonce     int        `json:"nonce"`
	FirstSeen *time.Time `json:"first_seen,omitempty"`
	AgeHours  *float64   `json:"age_hours,omitempty"` // nil when first tx is unknown
	IsFresh   bool       `json:"is_fresh"`

	MaticBalance decimal.Decimal `json:"matic_balance"` // wei
	USDCBalance  decimal.Decimal `json:"usdc_balance"`

	AnalyzedAt     time.Time `json:"analyzed_at"`
	FreshThreshold int       `json:"fresh_threshold"`
}

// FreshnessScore combines nonce and age into a [0,1] score. An unknown
// age counts as maximally fresh, mirroring the freshness rule.
func (p WalletProfile) FreshnessScore() float64 {
	nonceScore := 1.0 - float64(p.Nonce)/float64(p.FreshThreshold)
	if nonceScore < 0 {
		nonceScore = 0
	}
	ageScore := 1.0
	if p.AgeHours != nil {
		ageScore = 1.0 - *p.AgeHours/48.0
		if ageScore < 0 {
			ageScore = 0
		}
	}
	return 0.6*nonceScore + 0.4*ageScore
}

// ————————————————————————————————————————————————————————————————————————
// Funding chains
// ————————————————————————————————————————————————————————————————————————

// Funding chain origin types. CEX and bridge origins carry the concrete
// entity kind from the registry (e.g. "cex_binance", "bridge_polygon_pos").
const (
	OriginUnknown = "unknown"
	OriginError   = "error"
)

// FundingTransfer is one USDC hop in a funding chain.
type FundingTransfer struct {
	From        string          `json:"from_address"`
	To          string          `json:"to_address"`
	Amount      decimal.Decimal `json:"amount"` // token base units
	Token       string          `json:"token"`
	TxHash      string          `json:"tx_hash"`
	BlockNumber uint64          `json:"block_number"`
	Timestamp   time.Time       `json:"timestamp"`
}

// FundingChain is the ordered trace of USDC transfers leading into a
// wallet, ending at a known entity, an address with no inbound transfer,
// or the hop limit.
type FundingChain struct {
	TargetAddress string            `json:"target_address"`
	Chain         []FundingTransfer `json:"chain"`
	OriginAddress string            `json:"origin_address"`
	OriginType    string            `json:"origin_type"`
	HopCount      int               `json:"hop_count"`
	TracedAt      time.Time         `json:"traced_at"`
}

// IsCEXOrigin reports whether the trace terminated at an exchange wallet.
func (c FundingChain) IsCEXOrigin() bool {
	return strings.HasPrefix(c.OriginType, "cex")
}

// IsBridgeOrigin reports whether the trace terminated at a bridge.
func (c FundingChain) IsBridgeOrigin() bool {
	return strings.HasPrefix(c.OriginType, "bridge")
}
