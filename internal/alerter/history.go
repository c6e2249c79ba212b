package alerter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"polymarket-tracker/pkg/types"
)

const (
	keyPrefixDedup  = "alert:dedup:"
	keyPrefixRecord = "alert:record:"
	keyIndexTime    = "alert:index:time"
	keyIndexWallet  = "alert:index:wallet:"
	keyIndexMarket  = "alert:index:market:"

	// DefaultDedupWindowHours buckets duplicate suppression per hour.
	DefaultDedupWindowHours = 1

	// DefaultRetentionDays keeps alert records for 30 days.
	DefaultRetentionDays = 30
)

// HistoryConfig tunes dedup and retention. Zero values take defaults.
type HistoryConfig struct {
	DedupWindowHours int
	RetentionDays    int
}

// History records every dispatched alert in Redis, with hour-bucketed
// dedup keys and sorted-set indexes by time, wallet, and market for
// later querying.
type History struct {
	redis     *redis.Client
	dedupTTL  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

// NewHistory creates an alert history store.
func NewHistory(rdb *redis.Client, cfg HistoryConfig, logger *slog.Logger) *History {
	if cfg.DedupWindowHours <= 0 {
		cfg.DedupWindowHours = DefaultDedupWindowHours
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	return &History{
		redis:     rdb,
		dedupTTL:  time.Duration(cfg.DedupWindowHours) * time.Hour,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		logger:    logger.With("component", "alert_history"),
	}
}

// historyDedupKey buckets a wallet/market pair into the hour it fired.
func historyDedupKey(wallet, market string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%s", wallet, market, at.UTC().Format("2006010215"))
}

// ShouldSend reports whether no alert for this wallet/market landed in
// the current hour bucket.
func (h *History) ShouldSend(ctx context.Context, a types.RiskAssessment) (bool, error) {
	key := keyPrefixDedup + historyDedupKey(a.WalletAddress, a.MarketID, time.Now())
	n, err := h.redis.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	if n > 0 {
		h.logger.Debug("duplicate alert suppressed", "wallet", a.WalletAddress, "market", a.MarketID)
		return false, nil
	}
	return true, nil
}

// RecordSent persists a dispatched alert and indexes it. Returns the
// generated alert ID.
func (h *History) RecordSent(ctx context.Context, a types.RiskAssessment, attempted []string, succeeded map[string]bool) (string, error) {
	alertID := uuid.NewString()
	now := time.Now().UTC()
	dedupKey := historyDedupKey(a.WalletAddress, a.MarketID, now)

	var okChannels []string
	for _, ch := range attempted {
		if succeeded[ch] {
			okChannels = append(okChannels, ch)
		}
	}

	record := types.AlertRecord{
		AlertID:           alertID,
		AssessmentID:      a.AssessmentID,
		WalletAddress:     a.WalletAddress,
		MarketID:          a.MarketID,
		WeightedScore:     a.WeightedScore,
		SignalsFired:      a.SignalNames(),
		ChannelsAttempted: attempted,
		ChannelsSucceeded: okChannels,
		DedupKey:          dedupKey,
		CreatedAt:         now,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal alert record: %w", err)
	}

	score := float64(now.Unix())
	pipe := h.redis.Pipeline()
	pipe.Set(ctx, keyPrefixDedup+dedupKey, "1", h.dedupTTL)
	pipe.Set(ctx, keyPrefixRecord+alertID, payload, h.retention)
	pipe.ZAdd(ctx, keyIndexTime, redis.Z{Score: score, Member: alertID})
	pipe.ZAdd(ctx, keyIndexWallet+a.WalletAddress, redis.Z{Score: score, Member: alertID})
	pipe.Expire(ctx, keyIndexWallet+a.WalletAddress, h.retention)
	pipe.ZAdd(ctx, keyIndexMarket+a.MarketID, redis.Z{Score: score, Member: alertID})
	pipe.Expire(ctx, keyIndexMarket+a.MarketID, h.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("record alert: %w", err)
	}

	h.logger.Info("alert recorded", "alert_id", alertID, "wallet", a.WalletAddress)
	return alertID, nil
}

// RecordFeedback stores user feedback on an alert's usefulness,
// preserving the record's remaining TTL. Returns false when the alert
// is unknown.
func (h *History) RecordFeedback(ctx context.Context, alertID string, useful bool) (bool, error) {
	key := keyPrefixRecord + alertID

	data, err := h.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		h.logger.Warn("feedback for unknown alert", "alert_id", alertID)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var record types.AlertRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return false, fmt.Errorf("unmarshal alert record: %w", err)
	}
	record.UserFeedback = &useful

	ttl, err := h.redis.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = h.retention
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return false, err
	}
	if err := h.redis.Set(ctx, key, string(payload), ttl).Err(); err != nil {
		return false, err
	}
	h.logger.Info("alert feedback recorded", "alert_id", alertID, "useful", useful)
	return true, nil
}

// Alert fetches one alert record, or nil when unknown.
func (h *History) Alert(ctx context.Context, alertID string) (*types.AlertRecord, error) {
	data, err := h.redis.Get(ctx, keyPrefixRecord+alertID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var record types.AlertRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("unmarshal alert record: %w", err)
	}
	return &record, nil
}

// Alerts queries history inside [start, end]. Wallet takes precedence
// over market when both filters are set.
func (h *History) Alerts(ctx context.Context, start, end time.Time, wallet, market string, limit int64) ([]types.AlertRecord, error) {
	indexKey := keyIndexTime
	switch {
	case wallet != "":
		indexKey = keyIndexWallet + wallet
	case market != "":
		indexKey = keyIndexMarket + market
	}

	ids, err := h.redis.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min:   strconv.FormatInt(start.Unix(), 10),
		Max:   strconv.FormatInt(end.Unix(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("query alert index: %w", err)
	}

	records := make([]types.AlertRecord, 0, len(ids))
	for _, id := range ids {
		record, err := h.Alert(ctx, id)
		if err != nil {
			return nil, err
		}
		if record == nil {
			continue
		}
		if wallet != "" && record.WalletAddress != wallet {
			continue
		}
		if market != "" && record.MarketID != market {
			continue
		}
		records = append(records, *record)
	}
	return records, nil
}

// RecentCount counts alerts in the last N hours, optionally for one
// wallet.
func (h *History) RecentCount(ctx context.Context, hours int, wallet string) (int64, error) {
	end := time.Now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)

	indexKey := keyIndexTime
	if wallet != "" {
		indexKey = keyIndexWallet + wallet
	}
	return h.redis.ZCount(ctx, indexKey,
		strconv.FormatInt(start.Unix(), 10),
		strconv.FormatInt(end.Unix(), 10),
	).Result()
}

// CleanupOldAlerts trims index entries past the retention window.
// Records themselves expire via TTL.
func (h *History) CleanupOldAlerts(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-h.retention)
	removed, err := h.redis.ZRemRangeByScore(ctx, keyIndexTime,
		"-inf", strconv.FormatInt(cutoff.Unix(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("cleanup alert index: %w", err)
	}
	if removed > 0 {
		h.logger.Info("cleaned up old alert references", "removed", removed)
	}
	return removed, nil
}
