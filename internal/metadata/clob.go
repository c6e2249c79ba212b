// Package metadata implements the Polymarket CLOB REST client and the
// background market-catalog sync worker.
//
// The REST client (Client) is read-only:
//   - Markets:   GET /markets            — paginated market catalog
//   - Market:    GET /market/{condition} — single market by condition ID
//   - Orderbook: GET /book               — L2 book for a token
//   - Midpoint:  GET /midpoint           — mid price for a token
//   - Price:     GET /price              — best price for a side
//
// Every request passes a client-imposed 10 req/s token bucket and is
// retried on 429/5xx with exponential backoff.
package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"polymarket-tracker/internal/ratelimit"
	"polymarket-tracker/pkg/types"
)

const (
	// DefaultHost is the production CLOB endpoint.
	DefaultHost = "https://clob.polymarket.com"

	// EndCursor is the pagination sentinel marking the last page.
	EndCursor = "LTE="

	clobRequestsPerSecond = 10
)

// Client is the read-only Polymarket CLOB REST client.
type Client struct {
	http   *resty.Client
	rl     *ratelimit.TokenBucket
	logger *slog.Logger
}

// NewClient creates a CLOB client. apiKey may be empty; the read
// endpoints are public.
func NewClient(host, apiKey string, logger *slog.Logger) *Client {
	if host == "" {
		host = DefaultHost
	}
	httpClient := resty.New().
		SetBaseURL(host).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(8 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		httpClient.SetHeader("POLY-API-KEY", apiKey)
	}

	return &Client{
		http:   httpClient,
		rl:     ratelimit.NewTokenBucket(clobRequestsPerSecond, clobRequestsPerSecond),
		logger: logger.With("component", "clob"),
	}
}

// tokenWire and marketWire mirror the CLOB JSON market shape.
type tokenWire struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Price   string `json:"price"`
}

type marketWire struct {
	ConditionID string      `json:"condition_id"`
	Question    string      `json:"question"`
	Description string      `json:"description"`
	Tokens      []tokenWire `json:"tokens"`
	EndDateISO  string      `json:"end_date_iso"`
	Active      bool        `json:"active"`
	Closed      bool        `json:"closed"`
}

type marketsPage struct {
	Data       []marketWire `json:"data"`
	NextCursor string       `json:"next_cursor"`
}

func (w marketWire) toMetadata() types.MarketMetadata {
	tokens := make([]types.Token, 0, len(w.Tokens))
	for _, t := range w.Tokens {
		token := types.Token{TokenID: t.TokenID, Outcome: t.Outcome}
		if t.Price != "" {
			if p, err := decimal.NewFromString(t.Price); err == nil {
				token.Price = &p
			}
		}
		tokens = append(tokens, token)
	}

	var endDate *time.Time
	if w.EndDateISO != "" {
		if ts, err := time.Parse(time.RFC3339, w.EndDateISO); err == nil {
			endDate = &ts
		}
	}

	return types.MarketMetadata{
		ConditionID: w.ConditionID,
		Question:    w.Question,
		Description: w.Description,
		Tokens:      tokens,
		EndDate:     endDate,
		Active:      w.Active,
		Closed:      w.Closed,
		Category:    types.DeriveCategory(w.Question),
		LastUpdated: time.Now().UTC(),
	}
}

// Markets fetches the full market catalog, following the pagination
// cursor until the "LTE=" sentinel. Closed markets are dropped when
// activeOnly is set.
func (c *Client) Markets(ctx context.Context, activeOnly bool) ([]types.MarketMetadata, error) {
	var all []types.MarketMetadata
	cursor := ""

	for {
		if err := c.rl.Wait(ctx); err != nil {
			return nil, err
		}

		req := c.http.R().SetContext(ctx)
		if cursor != "" {
			req.SetQueryParam("next_cursor", cursor)
		}
		var page marketsPage
		resp, err := req.SetResult(&page).Get("/markets")
		if err != nil {
			return nil, fmt.Errorf("get markets: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("get markets: status %d: %s", resp.StatusCode(), resp.String())
		}

		for _, w := range page.Data {
			if activeOnly && w.Closed {
				continue
			}
			all = append(all, w.toMetadata())
		}

		if page.NextCursor == "" || page.NextCursor == EndCursor {
			break
		}
		cursor = page.NextCursor
	}

	c.logger.Debug("fetched market catalog", "markets", len(all))
	return all, nil
}

// Market fetches a single market by condition ID.
func (c *Client) Market(ctx context.Context, conditionID string) (types.MarketMetadata, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return types.MarketMetadata{}, err
	}

	var w marketWire
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&w).
		Get("/market/" + conditionID)
	if err != nil {
		return types.MarketMetadata{}, fmt.Errorf("get market %s: %w", conditionID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.MarketMetadata{}, fmt.Errorf("get market %s: status %d", conditionID, resp.StatusCode())
	}
	return w.toMetadata(), nil
}

type bookWire struct {
	Market  string `json:"market"`
	AssetID string `json:"asset_id"`
	Bids    []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"asks"`
}

// Orderbook fetches the L2 book for a token.
func (c *Client) Orderbook(ctx context.Context, tokenID string) (types.Orderbook, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return types.Orderbook{}, err
	}

	var w bookWire
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&w).
		Get("/book")
	if err != nil {
		return types.Orderbook{}, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.Orderbook{}, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}

	book := types.Orderbook{
		Market:    w.Market,
		AssetID:   w.AssetID,
		Timestamp: time.Now().UTC(),
	}
	for _, lvl := range w.Bids {
		price, perr := decimal.NewFromString(lvl.Price)
		size, serr := decimal.NewFromString(lvl.Size)
		if perr != nil || serr != nil {
			continue
		}
		book.Bids = append(book.Bids, types.BookLevel{Price: price, Size: size})
	}
	for _, lvl := range w.Asks {
		price, perr := decimal.NewFromString(lvl.Price)
		size, serr := decimal.NewFromString(lvl.Size)
		if perr != nil || serr != nil {
			continue
		}
		book.Asks = append(book.Asks, types.BookLevel{Price: price, Size: size})
	}
	return book, nil
}

// Midpoint fetches the mid price for a token, or nil when unavailable.
func (c *Client) Midpoint(ctx context.Context, tokenID string) (*decimal.Decimal, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var result struct {
		Mid string `json:"mid"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/midpoint")
	if err != nil {
		return nil, fmt.Errorf("get midpoint: %w", err)
	}
	if resp.StatusCode() != http.StatusOK || result.Mid == "" {
		return nil, nil
	}
	mid, err := decimal.NewFromString(result.Mid)
	if err != nil {
		return nil, nil
	}
	return &mid, nil
}

// Price fetches the best price for a token on one side, or nil when
// unavailable.
func (c *Client) Price(ctx context.Context, tokenID string, side types.Side) (*decimal.Decimal, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var result struct {
		Price string `json:"price"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetQueryParam("side", string(side)).
		SetResult(&result).
		Get("/price")
	if err != nil {
		return nil, fmt.Errorf("get price: %w", err)
	}
	if resp.StatusCode() != http.StatusOK || result.Price == "" {
		return nil, nil
	}
	price, err := decimal.NewFromString(result.Price)
	if err != nil {
		return nil, nil
	}
	return &price, nil
}

// HealthCheck reports whether the CLOB API answers.
func (c *Client) HealthCheck(ctx context.Context) bool {
	if err := c.rl.Wait(ctx); err != nil {
		return false
	}
	resp, err := c.http.R().SetContext(ctx).Get("/ok")
	if err != nil {
		c.logger.Error("clob health check failed", "error", err)
		return false
	}
	return resp.StatusCode() == http.StatusOK
}
