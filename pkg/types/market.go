package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// Token is one outcome token of a binary market.
type Token struct {
	TokenID string           `json:"token_id"`
	Outcome string           `json:"outcome"`
	Price   *decimal.Decimal `json:"price,omitempty"`
}

// MarketMetadata is the cached representation of a Polymarket market:
// the CLOB market record plus the derived category. Stored in Redis as
// JSON by the metadata sync worker.
type MarketMetadata struct {
	ConditionID string     `json:"condition_id"`
	Question    string     `json:"question"`
	Description string     `json:"description"`
	Tokens      []Token    `json:"tokens"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	Active      bool       `json:"active"`
	Closed      bool       `json:"closed"`

	// Derived from the question text.
	Category string `json:"category"`

	LastUpdated time.Time `json:"last_updated"`
}

// PlaceholderMetadata builds a minimal metadata record for a market the
// cache and REST API know nothing about. Category "other" keeps the
// size-anomaly detector's niche handling conservative.
func PlaceholderMetadata(conditionID string) MarketMetadata {
	return MarketMetadata{
		ConditionID: conditionID,
		Category:    CategoryOther,
		LastUpdated: time.Now().UTC(),
	}
}

// Market categories derived from question keywords.
const (
	CategoryPolitics      = "politics"
	CategoryCrypto        = "crypto"
	CategorySports        = "sports"
	CategoryEntertainment = "entertainment"
	CategoryFinance       = "finance"
	CategoryTech          = "tech"
	CategoryScience       = "science"
	CategoryOther         = "other"
)

// categoryKeywords is matched in order; first hit wins.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{CategoryPolitics, []string{
		"election", "president", "congress", "senate", "house", "governor",
		"mayor", "vote", "ballot", "democrat", "republican", "trump", "biden",
		"political", "party", "campaign", "poll", "primary", "caucus",
	}},
	{CategoryCrypto, []string{
		"bitcoin", "ethereum", "crypto", "btc", "eth", "blockchain", "token",
		"defi", "nft", "altcoin", "solana", "cardano", "dogecoin",
	}},
	{CategorySports, []string{
		"nfl", "nba", "mlb", "nhl", "soccer", "football", "basketball",
		"baseball", "hockey", "tennis", "golf", "ufc", "boxing", "olympics",
		"championship", "super bowl", "world cup", "playoffs", "finals",
	}},
	{CategoryEntertainment, []string{
		"movie", "film", "oscar", "grammy", "emmy", "album", "song",
		"celebrity", "netflix", "disney", "streaming", "box office",
		"tv show", "series", "actor", "actress", "music",
	}},
	{CategoryFinance, []string{
		"stock", "market", "fed", "interest rate", "inflation", "gdp",
		"unemployment", "recession", "economy", "s&p", "nasdaq", "dow",
		"treasury", "bond", "forex", "gold", "oil", "commodity",
	}},
	{CategoryTech, []string{
		"apple", "google", "microsoft", "amazon", "meta", "tesla", "ai",
		"artificial intelligence", "chatgpt", "openai", "semiconductor",
		"iphone", "android", "software", "hardware", "startup",
	}},
	{CategoryScience, []string{
		"nasa", "space", "climate", "weather", "vaccine", "covid", "fda",
		"drug", "trial", "research", "study", "discovery",
	}},
}

// DeriveCategory classifies a market by keyword-matching its question.
// Returns "other" when nothing matches.
func DeriveCategory(question string) string {
	q := strings.ToLower(question)
	for _, group := range categoryKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(q, kw) {
				return group.category
			}
		}
	}
	return CategoryOther
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// BookLevel is a single bid or ask level. The CLOB API returns prices
// and sizes as strings to preserve decimal precision.
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Orderbook is a point-in-time view of one token's order book.
type Orderbook struct {
	Market    string      `json:"market"`
	AssetID   string      `json:"asset_id"`
	Bids      []BookLevel `json:"bids"` // best bid first
	Asks      []BookLevel `json:"asks"` // best ask first
	Timestamp time.Time   `json:"timestamp"`
}

// BestBid returns the top bid price, or nil when the book is empty.
func (o Orderbook) BestBid() *decimal.Decimal {
	if len(o.Bids) == 0 {
		return nil
	}
	return &o.Bids[0].Price
}

// BestAsk returns the top ask price, or nil when the book is empty.
func (o Orderbook) BestAsk() *decimal.Decimal {
	if len(o.Asks) == 0 {
		return nil
	}
	return &o.Asks[0].Price
}

// TopOfBookDepth returns the total size resting at the best bid and ask.
func (o Orderbook) TopOfBookDepth() decimal.Decimal {
	depth := decimal.Zero
	if len(o.Bids) > 0 {
		depth = depth.Add(o.Bids[0].Size)
	}
	if len(o.Asks) > 0 {
		depth = depth.Add(o.Asks[0].Size)
	}
	return depth
}
