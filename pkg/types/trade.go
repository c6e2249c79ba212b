// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the tracker — trade events,
// market metadata, wallet profiles, detector signals, and alert payloads.
// It has no dependencies on internal packages, so it can be imported by
// any layer.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of a trade: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// ParseSide normalizes a raw side string; anything that is not SELL is BUY.
func ParseSide(raw string) Side {
	if strings.EqualFold(raw, string(SELL)) {
		return SELL
	}
	return BUY
}

// ————————————————————————————————————————————————————————————————————————
// Trade events
// ————————————————————————————————————————————————————————————————————————

// TradeEvent is the atomic input of the pipeline: a single trade execution
// from the Polymarket activity feed. Immutable once constructed — stages
// pass it by value and never mutate it.
type TradeEvent struct {
	// Core identifiers
	MarketID      string // condition ID of the market
	TradeID       string // transaction hash, unique per trade
	WalletAddress string // trader's proxy wallet, lowercased

	// Trade details
	Side         Side
	Outcome      string // human-readable outcome ("Yes", "No")
	OutcomeIndex int    // 0 or 1
	Price        decimal.Decimal
	Size         decimal.Decimal // shares traded
	Timestamp    time.Time

	AssetID string // ERC1155 token ID

	// Display metadata (may be empty)
	MarketSlug      string
	EventSlug       string
	EventTitle      string
	TraderName      string
	TraderPseudonym string
}

// NotionalValue returns price × size in USDC.
func (t TradeEvent) NotionalValue() decimal.Decimal {
	return t.Price.Mul(t.Size)
}

// IsBuy reports whether this is a buy trade.
func (t TradeEvent) IsBuy() bool { return t.Side == BUY }

// IsSell reports whether this is a sell trade.
func (t TradeEvent) IsSell() bool { return t.Side == SELL }

// Validate checks the trade invariants: price in [0,1], size non-negative,
// timestamp not more than 5s in the future, and non-empty identifiers.
func (t TradeEvent) Validate() error {
	if t.TradeID == "" {
		return fmt.Errorf("trade %s: missing trade id", t.MarketID)
	}
	if t.WalletAddress == "" {
		return fmt.Errorf("trade %s: missing wallet address", t.TradeID)
	}
	if t.Price.IsNegative() || t.Price.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("trade %s: price %s outside [0,1]", t.TradeID, t.Price)
	}
	if t.Size.IsNegative() {
		return fmt.Errorf("trade %s: negative size %s", t.TradeID, t.Size)
	}
	if t.Timestamp.After(time.Now().Add(5 * time.Second)) {
		return fmt.Errorf("trade %s: timestamp %s is in the future", t.TradeID, t.Timestamp)
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket frames
// ————————————————————————————————————————————————————————————————————————
// These structs map 1:1 to the JSON messages on the Polymarket activity feed.

// WSSubscription is one subscription in the initial frame sent on connect.
type WSSubscription struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Filters string `json:"filters,omitempty"` // JSON-encoded slug filter
}

// WSSubscribeMsg is the initial subscription frame.
type WSSubscribeMsg struct {
	Subscriptions []WSSubscription `json:"subscriptions"`
}

// WSTradePayload is the payload of an activity/trades server frame.
// Timestamp is unix seconds; the feed occasionally sends it in a
// non-integer shape, which callers must treat as "now".
type WSTradePayload struct {
	ConditionID     string          `json:"conditionId"`
	TransactionHash string          `json:"transactionHash"`
	ProxyWallet     string          `json:"proxyWallet"`
	Side            string          `json:"side"`
	Outcome         string          `json:"outcome"`
	OutcomeIndex    int             `json:"outcomeIndex"`
	Price           decimal.Decimal `json:"price"`
	Size            decimal.Decimal `json:"size"`
	Timestamp       any             `json:"timestamp"`
	Asset           string          `json:"asset"`
	Slug            string          `json:"slug"`
	EventSlug       string          `json:"eventSlug"`
	Title           string          `json:"title"`
	Name            string          `json:"name"`
	Pseudonym       string          `json:"pseudonym"`
}

// WSMessage is the envelope of every server frame.
type WSMessage struct {
	Topic   string         `json:"topic"`
	Type    string         `json:"type"`
	Payload WSTradePayload `json:"payload"`
}
