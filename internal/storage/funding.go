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

// FundingRepo persists USDC transfer hops discovered by the tracer.
type FundingRepo struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// transferRow maps the funding_transfers table.
type transferRow struct {
	FromAddress string          `db:"from_address"`
	ToAddress   string          `db:"to_address"`
	Amount      decimal.Decimal `db:"amount"`
	Token       string          `db:"token"`
	TxHash      string          `db:"tx_hash"`
	BlockNumber uint64          `db:"block_number"`
	Timestamp   time.Time       `db:"timestamp"`
}

func (r transferRow) toTransfer() types.FundingTransfer {
	return types.FundingTransfer{
		From:        r.FromAddress,
		To:          r.ToAddress,
		Amount:      r.Amount,
		Token:       r.Token,
		TxHash:      r.TxHash,
		BlockNumber: r.BlockNumber,
		Timestamp:   r.Timestamp,
	}
}

const transferColumns = `from_address, to_address, amount, token, tx_hash, block_number, timestamp`

// Insert stores one transfer. Duplicate tx hashes are skipped; the
// return value reports whether a row was written.
func (r *FundingRepo) Insert(ctx context.Context, t types.FundingTransfer) (bool, error) {
	const query = `
		INSERT INTO funding_transfers
			(from_address, to_address, amount, token, tx_hash, block_number, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		strings.ToLower(t.From), strings.ToLower(t.To), t.Amount, t.Token,
		strings.ToLower(t.TxHash), t.BlockNumber, t.Timestamp)
	if err != nil {
		return false, fmt.Errorf("insert funding transfer: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// InsertMany stores a batch of transfers, skipping duplicates, and
// returns how many were new.
func (r *FundingRepo) InsertMany(ctx context.Context, transfers []types.FundingTransfer) (int, error) {
	inserted := 0
	for _, t := range transfers {
		ok, err := r.Insert(ctx, t)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// SaveChain persists every hop of a traced funding chain.
func (r *FundingRepo) SaveChain(ctx context.Context, chain types.FundingChain) (int, error) {
	return r.InsertMany(ctx, chain.Chain)
}

// TransfersTo lists inbound transfers for a wallet, oldest first.
func (r *FundingRepo) TransfersTo(ctx context.Context, address string, limit int) ([]types.FundingTransfer, error) {
	return r.listTransfers(ctx,
		`SELECT `+transferColumns+` FROM funding_transfers
		 WHERE to_address = $1 ORDER BY timestamp ASC LIMIT $2`,
		strings.ToLower(address), limit)
}

// TransfersFrom lists outbound transfers for a wallet, oldest first.
func (r *FundingRepo) TransfersFrom(ctx context.Context, address string, limit int) ([]types.FundingTransfer, error) {
	return r.listTransfers(ctx,
		`SELECT `+transferColumns+` FROM funding_transfers
		 WHERE from_address = $1 ORDER BY timestamp ASC LIMIT $2`,
		strings.ToLower(address), limit)
}

func (r *FundingRepo) listTransfers(ctx context.Context, query string, args ...any) ([]types.FundingTransfer, error) {
	var rows []transferRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query funding transfers: %w", err)
	}
	transfers := make([]types.FundingTransfer, 0, len(rows))
	for _, row := range rows {
		transfers = append(transfers, row.toTransfer())
	}
	return transfers, nil
}

// FirstTransferTo returns the earliest inbound transfer, or nil.
func (r *FundingRepo) FirstTransferTo(ctx context.Context, address string) (*types.FundingTransfer, error) {
	const query = `
		SELECT ` + transferColumns + ` FROM funding_transfers
		WHERE to_address = $1 ORDER BY timestamp ASC LIMIT 1`

	var row transferRow
	err := r.db.GetContext(ctx, &row, query, strings.ToLower(address))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query first transfer: %w", err)
	}
	t := row.toTransfer()
	return &t, nil
}

// ByTxHash returns the transfer for a transaction hash, or nil.
func (r *FundingRepo) ByTxHash(ctx context.Context, txHash string) (*types.FundingTransfer, error) {
	const query = `SELECT ` + transferColumns + ` FROM funding_transfers WHERE tx_hash = $1`

	var row transferRow
	err := r.db.GetContext(ctx, &row, query, strings.ToLower(txHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query transfer by hash: %w", err)
	}
	t := row.toTransfer()
	return &t, nil
}
