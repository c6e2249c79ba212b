// Package stream implements the WebSocket client for the Polymarket
// real-time activity feed.
//
// The handler maintains a persistent connection, subscribes to the
// activity/trades topic on connect, and invokes a callback for every
// parsed trade. Disconnections trigger automatic reconnection with
// exponential backoff (1s doubling to 30s, reset after a successful
// connect). A read deadline of two ping intervals detects silent
// server failures.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"polymarket-tracker/internal/metrics"
	"polymarket-tracker/pkg/types"
)

const (
	// DefaultHost is the production activity feed endpoint.
	DefaultHost = "wss://ws-live-data.polymarket.com"

	pingInterval          = 30 * time.Second
	readTimeout           = 2 * pingInterval
	writeTimeout          = 10 * time.Second
	initialReconnectDelay = time.Second
	maxReconnectDelay     = 30 * time.Second
)

// ConnectionState tracks the feed lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// Stats is a snapshot of feed counters.
type Stats struct {
	TradesReceived int64      `json:"trades_received"`
	ReconnectCount int64      `json:"reconnect_count"`
	LastTradeTime  *time.Time `json:"last_trade_time,omitempty"`
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

// TradeCallback is invoked for every parsed trade event. Errors are
// logged and do not interrupt the feed.
type TradeCallback func(context.Context, types.TradeEvent) error

// StateCallback fires on connection state transitions.
type StateCallback func(ConnectionState)

// Config configures the trade stream handler.
type Config struct {
	Host          string
	EventFilter   string   // event slug filter, takes precedence
	MarketFilters []string // market slug filters, used when EventFilter is empty
	OnStateChange StateCallback
}

// Handler streams trade events from the Polymarket activity feed.
type Handler struct {
	host        string
	eventFilter string
	marketSlugs []string
	onTrade     TradeCallback
	onState     StateCallback
	metrics     *metrics.Registry
	logger      *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	mu    sync.Mutex
	state ConnectionState
	stats Stats
}

// NewHandler creates a trade stream handler. metrics may be nil.
func NewHandler(cfg Config, onTrade TradeCallback, reg *metrics.Registry, logger *slog.Logger) *Handler {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	return &Handler{
		host:        cfg.Host,
		eventFilter: cfg.EventFilter,
		marketSlugs: cfg.MarketFilters,
		onTrade:     onTrade,
		onState:     cfg.OnStateChange,
		metrics:     reg,
		logger:      logger.With("component", "stream"),
		state:       StateDisconnected,
	}
}

// State returns the current connection state.
func (h *Handler) State() ConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Stats returns a snapshot of the feed counters.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) setState(next ConnectionState) {
	h.mu.Lock()
	prev := h.state
	h.state = next
	cb := h.onState
	h.mu.Unlock()

	if prev != next {
		h.logger.Info("connection state changed", "from", string(prev), "to", string(next))
		if cb != nil {
			cb(next)
		}
	}
}

// subscriptionFrame builds the initial frame sent on every connect.
func (h *Handler) subscriptionFrame() types.WSSubscribeMsg {
	sub := types.WSSubscription{
		Topic: "activity",
		Type:  "trades",
	}
	switch {
	case h.eventFilter != "":
		raw, _ := json.Marshal(map[string]string{"event_slug": h.eventFilter})
		sub.Filters = string(raw)
	case len(h.marketSlugs) > 0:
		raw, _ := json.Marshal(map[string]string{"market_slug": h.marketSlugs[0]})
		sub.Filters = string(raw)
	}
	return types.WSSubscribeMsg{Subscriptions: []types.WSSubscription{sub}}
}

// Run connects and streams trades until ctx is cancelled. A failure
// before the first successful connect is returned immediately so
// startup errors surface; later failures reconnect with backoff that
// resets after every successful connect.
func (h *Handler) Run(ctx context.Context) error {
	backoff := initialReconnectDelay
	everConnected := false

	for {
		connected, err := h.connectAndRead(ctx)
		h.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			everConnected = true
			backoff = initialReconnectDelay
		}
		if !everConnected {
			return fmt.Errorf("connect %s: %w", h.host, err)
		}

		h.mu.Lock()
		h.stats.LastError = err.Error()
		h.stats.ReconnectCount++
		h.mu.Unlock()
		if h.metrics != nil {
			h.metrics.WSReconnects.Inc()
		}

		h.setState(StateReconnecting)
		h.logger.Warn("feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectDelay {
			backoff = maxReconnectDelay
		}
	}
}

// connectAndRead reports whether the connection and subscription
// succeeded before the returned error occurred.
func (h *Handler) connectAndRead(ctx context.Context) (bool, error) {
	h.setState(StateConnecting)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, h.host, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	h.connMu.Lock()
	h.conn = conn
	h.connMu.Unlock()

	defer func() {
		h.connMu.Lock()
		conn.Close()
		h.conn = nil
		h.connMu.Unlock()
	}()

	if err := h.writeJSON(h.subscriptionFrame()); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}

	now := time.Now()
	h.mu.Lock()
	h.stats.ConnectedSince = &now
	h.mu.Unlock()
	h.setState(StateConnected)
	h.logger.Info("connected to activity feed", "host", h.host)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go h.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		h.handleMessage(ctx, raw)
	}
}

func (h *Handler) handleMessage(ctx context.Context, raw []byte) {
	var msg types.WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.logger.Warn("invalid feed message", "error", err)
		return
	}
	if msg.Topic != "activity" || msg.Type != "trades" {
		h.logger.Debug("ignoring message", "topic", msg.Topic, "type", msg.Type)
		return
	}

	trade := h.parseTrade(msg.Payload)

	now := time.Now()
	h.mu.Lock()
	h.stats.TradesReceived++
	h.stats.LastTradeTime = &now
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.TradesReceived.Inc()
	}

	h.logger.Debug("trade received",
		"side", string(trade.Side),
		"size", trade.Size,
		"price", trade.Price,
		"market", trade.MarketSlug,
	)

	if err := h.onTrade(ctx, trade); err != nil {
		h.logger.Error("trade callback failed", "trade_id", trade.TradeID, "error", err)
	}
}

// parseTrade converts a feed payload into a TradeEvent. A timestamp in
// any shape other than a whole number of unix seconds falls back to now.
func (h *Handler) parseTrade(p types.WSTradePayload) types.TradeEvent {
	ts, ok := parseTimestamp(p.Timestamp)
	if !ok {
		ts = time.Now().UTC()
		h.logger.Warn("unparseable trade timestamp, using current time",
			"raw", p.Timestamp, "tx", p.TransactionHash)
		if h.metrics != nil {
			h.metrics.TimestampParseWarnings.Inc()
		}
	}

	return types.TradeEvent{
		MarketID:        p.ConditionID,
		TradeID:         p.TransactionHash,
		WalletAddress:   p.ProxyWallet,
		Side:            types.ParseSide(p.Side),
		Outcome:         p.Outcome,
		OutcomeIndex:    p.OutcomeIndex,
		Price:           p.Price,
		Size:            p.Size,
		Timestamp:       ts,
		AssetID:         p.Asset,
		MarketSlug:      p.Slug,
		EventSlug:       p.EventSlug,
		EventTitle:      p.Title,
		TraderName:      p.Name,
		TraderPseudonym: p.Pseudonym,
	}
}

// parseTimestamp accepts whole-number unix seconds. JSON numbers decode
// as float64; fractional values and strings are rejected.
func parseTimestamp(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case float64:
		if v != float64(int64(v)) || v <= 0 {
			return time.Time{}, false
		}
		return time.Unix(int64(v), 0).UTC(), true
	case int64:
		if v <= 0 {
			return time.Time{}, false
		}
		return time.Unix(v, 0).UTC(), true
	}
	return time.Time{}, false
}

func (h *Handler) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.writeMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (h *Handler) writeJSON(v any) error {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	h.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return h.conn.WriteJSON(v)
}

func (h *Handler) writeMessage(msgType int, data []byte) error {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	h.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return h.conn.WriteMessage(msgType, data)
}

// Close force-closes the underlying connection if one is open.
func (h *Handler) Close() error {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.conn != nil {
		return h.conn.Close()
	}
	return nil
}
