// Package bus publishes and consumes trade events over Redis Streams.
//
// The ingestor writes normalized trades to a single stream; downstream
// stages read through consumer groups so each stage processes every
// event independently and failures are replayed from the pending list.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"polymarket-tracker/pkg/types"
)

const (
	// DefaultStream is the trade event stream name.
	DefaultStream = "trades"

	// DefaultMaxLen bounds the stream with approximate trimming.
	DefaultMaxLen = 100_000

	// DeadLetterStream receives events whose processing keeps failing.
	DeadLetterStream = "trades:dead"

	defaultReadCount = 10
	defaultBlock     = time.Second
)

// Entry is one event read from the stream.
type Entry struct {
	ID    string
	Event types.TradeEvent
}

// Bus wraps a Redis Stream carrying trade events.
type Bus struct {
	redis  *redis.Client
	stream string
	maxLen int64
	logger *slog.Logger
}

// New creates a bus on the given stream. Zero values take defaults.
func New(rdb *redis.Client, stream string, maxLen int64, logger *slog.Logger) *Bus {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Bus{
		redis:  rdb,
		stream: stream,
		maxLen: maxLen,
		logger: logger.With("component", "bus"),
	}
}

// Stream returns the stream name.
func (b *Bus) Stream() string { return b.stream }

// serialize flattens a trade event to the string map Redis Streams
// require. Field names are the stable wire contract between stages.
func serialize(ev types.TradeEvent) map[string]any {
	return map[string]any{
		"market_id":        ev.MarketID,
		"trade_id":         ev.TradeID,
		"wallet_address":   ev.WalletAddress,
		"side":             string(ev.Side),
		"outcome":          ev.Outcome,
		"outcome_index":    strconv.Itoa(ev.OutcomeIndex),
		"price":            ev.Price.String(),
		"size":             ev.Size.String(),
		"timestamp":        ev.Timestamp.UTC().Format(time.RFC3339Nano),
		"asset_id":         ev.AssetID,
		"market_slug":      ev.MarketSlug,
		"event_slug":       ev.EventSlug,
		"event_title":      ev.EventTitle,
		"trader_name":      ev.TraderName,
		"trader_pseudonym": ev.TraderPseudonym,
	}
}

// deserialize rebuilds a trade event from stream fields. Unparseable
// numeric fields fall back to zero values and a bad timestamp falls
// back to now, mirroring the tolerant feed parser.
func deserialize(values map[string]any) types.TradeEvent {
	str := func(key string) string {
		if v, ok := values[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}

	ts, err := time.Parse(time.RFC3339Nano, str("timestamp"))
	if err != nil {
		ts = time.Now().UTC()
	}
	price, err := decimal.NewFromString(str("price"))
	if err != nil {
		price = decimal.Zero
	}
	size, err := decimal.NewFromString(str("size"))
	if err != nil {
		size = decimal.Zero
	}
	idx, _ := strconv.Atoi(str("outcome_index"))

	return types.TradeEvent{
		MarketID:        str("market_id"),
		TradeID:         str("trade_id"),
		WalletAddress:   str("wallet_address"),
		Side:            types.ParseSide(str("side")),
		Outcome:         str("outcome"),
		OutcomeIndex:    idx,
		Price:           price,
		Size:            size,
		Timestamp:       ts,
		AssetID:         str("asset_id"),
		MarketSlug:      str("market_slug"),
		EventSlug:       str("event_slug"),
		EventTitle:      str("event_title"),
		TraderName:      str("trader_name"),
		TraderPseudonym: str("trader_pseudonym"),
	}
}

// Publish appends one event to the stream and returns its entry ID.
func (b *Bus) Publish(ctx context.Context, ev types.TradeEvent) (string, error) {
	id, err := b.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: serialize(ev),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", b.stream, err)
	}
	return id, nil
}

// PublishBatch appends events through one pipeline and returns their
// entry IDs in order.
func (b *Bus) PublishBatch(ctx context.Context, events []types.TradeEvent) ([]string, error) {
	if len(events) == 0 {
		return nil, nil
	}

	pipe := b.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(events))
	for i, ev := range events {
		cmds[i] = pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: b.stream,
			MaxLen: b.maxLen,
			Approx: true,
			Values: serialize(ev),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("xadd batch: %w", err)
	}

	ids := make([]string, len(cmds))
	for i, cmd := range cmds {
		ids[i] = cmd.Val()
	}
	return ids, nil
}

// EnsureGroup creates a consumer group starting at startID ("0" for the
// whole stream, "$" for new entries only), creating the stream if
// needed. Returns true when the group was created, false when it
// already existed.
func (b *Bus) EnsureGroup(ctx context.Context, group, startID string) (bool, error) {
	if startID == "" {
		startID = "0"
	}
	err := b.redis.XGroupCreateMkStream(ctx, b.stream, group, startID).Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return false, nil
		}
		return false, fmt.Errorf("create group %s: %w", group, err)
	}
	b.logger.Info("created consumer group", "group", group, "stream", b.stream)
	return true, nil
}

// Read blocks up to the default interval for new entries addressed to
// this consumer. Entries that fail to deserialize are skipped.
func (b *Bus) Read(ctx context.Context, group, consumer string, count int64) ([]Entry, error) {
	return b.read(ctx, group, consumer, ">", count, defaultBlock)
}

// ReadPending returns entries delivered to this consumer but never
// acknowledged, for crash recovery.
func (b *Bus) ReadPending(ctx context.Context, group, consumer string, count int64) ([]Entry, error) {
	return b.read(ctx, group, consumer, "0", count, 0)
}

func (b *Bus) read(ctx context.Context, group, consumer, id string, count int64, block time.Duration) ([]Entry, error) {
	if count <= 0 {
		count = defaultReadCount
	}
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{b.stream, id},
		Count:    count,
	}
	if block > 0 {
		args.Block = block
	} else {
		args.Block = -1 // negative means do not block
	}

	streams, err := b.redis.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", group, err)
	}

	var entries []Entry
	for _, s := range streams {
		for _, msg := range s.Messages {
			if len(msg.Values) == 0 {
				continue // already acked
			}
			entries = append(entries, Entry{ID: msg.ID, Event: deserialize(msg.Values)})
		}
	}
	return entries, nil
}

// Ack acknowledges processed entries for a group.
func (b *Bus) Ack(ctx context.Context, group string, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := b.redis.XAck(ctx, b.stream, group, ids...).Result()
	if err != nil {
		return 0, fmt.Errorf("xack: %w", err)
	}
	return n, nil
}

// Claim transfers entries idle longer than minIdle from dead consumers
// to the caller, returning the claimed entries.
func (b *Bus) Claim(ctx context.Context, group, consumer string, minIdle time.Duration, count int64) ([]Entry, error) {
	if count <= 0 {
		count = defaultReadCount
	}
	msgs, _, err := b.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   b.stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim %s: %w", group, err)
	}

	var entries []Entry
	for _, msg := range msgs {
		if len(msg.Values) == 0 {
			continue
		}
		entries = append(entries, Entry{ID: msg.ID, Event: deserialize(msg.Values)})
	}
	return entries, nil
}

// DeadLetter moves an event to the dead-letter stream with the failure
// reason and acknowledges the original entry.
func (b *Bus) DeadLetter(ctx context.Context, group string, entry Entry, reason string) error {
	values := serialize(entry.Event)
	values["dead_letter_reason"] = reason
	values["dead_letter_source"] = group

	if err := b.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("dead letter xadd: %w", err)
	}
	if _, err := b.Ack(ctx, group, entry.ID); err != nil {
		return err
	}
	b.logger.Warn("event dead-lettered",
		"trade_id", entry.Event.TradeID, "group", group, "reason", reason)
	return nil
}

// Len returns the current stream length.
func (b *Bus) Len(ctx context.Context) (int64, error) {
	return b.redis.XLen(ctx, b.stream).Result()
}

// Info returns the raw stream description, for operational inspection.
func (b *Bus) Info(ctx context.Context) (*redis.XInfoStream, error) {
	info, err := b.redis.XInfoStream(ctx, b.stream).Result()
	if err != nil {
		return nil, fmt.Errorf("xinfo stream: %w", err)
	}
	return info, nil
}

// Pending returns the pending entry count for a group. A missing group
// or stream reports zero.
func (b *Bus) Pending(ctx context.Context, group string) (int64, error) {
	info, err := b.redis.XPending(ctx, b.stream, group).Result()
	if err != nil {
		if strings.Contains(err.Error(), "NOGROUP") {
			return 0, nil
		}
		return 0, fmt.Errorf("xpending %s: %w", group, err)
	}
	return info.Count, nil
}

// Trim trims the stream to at most maxLen entries, returning the number
// removed.
func (b *Bus) Trim(ctx context.Context, maxLen int64) (int64, error) {
	if maxLen <= 0 {
		maxLen = b.maxLen
	}
	n, err := b.redis.XTrimMaxLen(ctx, b.stream, maxLen).Result()
	if err != nil {
		return 0, fmt.Errorf("xtrim: %w", err)
	}
	return n, nil
}
