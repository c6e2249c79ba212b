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
	"github.com/shopspring/decimal"

	"polymarket-tracker/pkg/types"
)

// WalletRepo persists analyzer verdicts keyed by address.
type WalletRepo struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// walletRow maps the wallet_profiles table.
type walletRow struct {
	Address        string              `db:"address"`
	Nonce          int                 `db:"nonce"`
	FirstSeenAt    *time.Time          `db:"first_seen_at"`
	IsFresh        bool                `db:"is_fresh"`
	FreshThreshold int                 `db:"fresh_threshold"`
	MaticBalance   decimal.NullDecimal `db:"matic_balance"`
	USDCBalance    decimal.NullDecimal `db:"usdc_balance"`
	AnalyzedAt     time.Time           `db:"analyzed_at"`
}

func (r walletRow) toProfile() types.WalletProfile {
	p := types.WalletProfile{
		Address:        r.Address,
		Nonce:          r.Nonce,
		FirstSeen:      r.FirstSeenAt,
		IsFresh:        r.IsFresh,
		FreshThreshold: r.FreshThreshold,
		AnalyzedAt:     r.AnalyzedAt,
	}
	if r.MaticBalance.Valid {
		p.MaticBalance = r.MaticBalance.Decimal
	}
	if r.USDCBalance.Valid {
		p.USDCBalance = r.USDCBalance.Decimal
	}
	if r.FirstSeenAt != nil {
		age := time.Since(*r.FirstSeenAt).Hours()
		p.AgeHours = &age
	}
	return p
}

// Upsert inserts or refreshes a wallet profile.
func (r *WalletRepo) Upsert(ctx context.Context, p types.WalletProfile) error {
	const query = `
		INSERT INTO wallet_profiles
			(address, nonce, first_seen_at, is_fresh, fresh_threshold,
			 matic_balance, usdc_balance, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (address) DO UPDATE SET
			nonce           = EXCLUDED.nonce,
			first_seen_at   = EXCLUDED.first_seen_at,
			is_fresh        = EXCLUDED.is_fresh,
			fresh_threshold = EXCLUDED.fresh_threshold,
			matic_balance   = EXCLUDED.matic_balance,
			usdc_balance    = EXCLUDED.usdc_balance,
			analyzed_at     = EXCLUDED.analyzed_at,
			updated_at      = now()`

	_, err := r.db.ExecContext(ctx, query,
		strings.ToLower(p.Address), p.Nonce, p.FirstSeen, p.IsFresh, p.FreshThreshold,
		p.MaticBalance, p.USDCBalance, p.AnalyzedAt)
	if err != nil {
		return fmt.Errorf("upsert wallet profile: %w", err)
	}
	return nil
}

// ByAddress fetches one profile, or nil when the wallet is unknown.
func (r *WalletRepo) ByAddress(ctx context.Context, address string) (*types.WalletProfile, error) {
	const query = `
		SELECT address, nonce, first_seen_at, is_fresh, fresh_threshold,
		       matic_balance, usdc_balance, analyzed_at
		FROM wallet_profiles WHERE address = $1`

	var row walletRow
	err := r.db.GetContext(ctx, &row, query, strings.ToLower(address))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query wallet profile: %w", err)
	}
	p := row.toProfile()
	return &p, nil
}

// FreshWallets lists the most recently analyzed fresh wallets.
func (r *WalletRepo) FreshWallets(ctx context.Context, limit int) ([]types.WalletProfile, error) {
	const query = `
		SELECT address, nonce, first_seen_at, is_fresh, fresh_threshold,
		       matic_balance, usdc_balance, analyzed_at
		FROM wallet_profiles
		WHERE is_fresh = TRUE
		ORDER BY analyzed_at DESC
		LIMIT $1`

	var rows []walletRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("query fresh wallets: %w", err)
	}
	profiles := make([]types.WalletProfile, 0, len(rows))
	for _, row := range rows {
		profiles = append(profiles, row.toProfile())
	}
	return profiles, nil
}

// MarkStale backdates analyzed_at so the next lookup re-analyzes.
func (r *WalletRepo) MarkStale(ctx context.Context, address string) (bool, error) {
	staleTime := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err := r.db.ExecContext(ctx,
		`UPDATE wallet_profiles SET analyzed_at = $1, updated_at = now() WHERE address = $2`,
		staleTime, strings.ToLower(address))
	if err != nil {
		return false, fmt.Errorf("mark wallet stale: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Delete removes a wallet profile.
func (r *WalletRepo) Delete(ctx context.Context, address string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM wallet_profiles WHERE address = $1`, strings.ToLower(address))
	if err != nil {
		return false, fmt.Errorf("delete wallet profile: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
