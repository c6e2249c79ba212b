package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"polymarket-tracker/pkg/types"
)

// AlertRepo is the durable alert log behind the Redis history.
type AlertRepo struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// alertRow maps the alerts table. Array columns need pq wrappers.
type alertRow struct {
	AlertID           string         `db:"alert_id"`
	AssessmentID      sql.NullString `db:"assessment_id"`
	WalletAddress     string         `db:"wallet_address"`
	MarketID          string         `db:"market_id"`
	WeightedScore     float64        `db:"weighted_score"`
	SignalsFired      pq.StringArray `db:"signals_fired"`
	ChannelsAttempted pq.StringArray `db:"channels_attempted"`
	ChannelsSucceeded pq.StringArray `db:"channels_succeeded"`
	DedupKey          string         `db:"dedup_key"`
	UserFeedback      sql.NullBool   `db:"user_feedback"`
	CreatedAt         time.Time      `db:"created_at"`
}

func (r alertRow) toRecord() types.AlertRecord {
	record := types.AlertRecord{
		AlertID:           r.AlertID,
		AssessmentID:      r.AssessmentID.String,
		WalletAddress:     r.WalletAddress,
		MarketID:          r.MarketID,
		WeightedScore:     r.WeightedScore,
		SignalsFired:      r.SignalsFired,
		ChannelsAttempted: r.ChannelsAttempted,
		ChannelsSucceeded: r.ChannelsSucceeded,
		DedupKey:          r.DedupKey,
		CreatedAt:         r.CreatedAt,
	}
	if r.UserFeedback.Valid {
		feedback := r.UserFeedback.Bool
		record.UserFeedback = &feedback
	}
	return record
}

const alertColumns = `alert_id, assessment_id, wallet_address, market_id, weighted_score,
	signals_fired, channels_attempted, channels_succeeded, dedup_key, user_feedback, created_at`

// Insert appends one alert to the log. Replayed alert IDs are ignored.
func (r *AlertRepo) Insert(ctx context.Context, record types.AlertRecord) error {
	const query = `
		INSERT INTO alerts
			(alert_id, assessment_id, wallet_address, market_id, weighted_score,
			 signals_fired, channels_attempted, channels_succeeded, dedup_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (alert_id) DO NOTHING`

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, query,
		record.AlertID, record.AssessmentID,
		strings.ToLower(record.WalletAddress), record.MarketID, record.WeightedScore,
		pq.StringArray(record.SignalsFired),
		pq.StringArray(record.ChannelsAttempted),
		pq.StringArray(record.ChannelsSucceeded),
		record.DedupKey, createdAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// ByID returns one alert, or nil when unknown.
func (r *AlertRepo) ByID(ctx context.Context, alertID string) (*types.AlertRecord, error) {
	var row alertRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+alertColumns+` FROM alerts WHERE alert_id = $1`, alertID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query alert: %w", err)
	}
	record := row.toRecord()
	return &record, nil
}

// ByWallet lists a wallet's alerts, newest first.
func (r *AlertRepo) ByWallet(ctx context.Context, wallet string, limit int) ([]types.AlertRecord, error) {
	var rows []alertRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+alertColumns+` FROM alerts
		 WHERE wallet_address = $1 ORDER BY created_at DESC LIMIT $2`,
		strings.ToLower(wallet), limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts by wallet: %w", err)
	}
	records := make([]types.AlertRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}
	return records, nil
}

// SetFeedback stores user feedback. Returns false when the alert is
// unknown.
func (r *AlertRepo) SetFeedback(ctx context.Context, alertID string, useful bool) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE alerts SET user_feedback = $1 WHERE alert_id = $2`, useful, alertID)
	if err != nil {
		return false, fmt.Errorf("set alert feedback: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CountSince counts alerts created at or after the cutoff.
func (r *AlertRepo) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM alerts WHERE created_at >= $1`, since)
	if err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return count, nil
}
