// Package storage persists analysis results to PostgreSQL.
//
// Redis remains the hot path (profile cache, dedup keys, the stream
// bus); Postgres is the durable audit trail behind it: analyzed wallet
// profiles, traced funding transfers, inferred wallet relationships,
// and the alert log. Everything is plain sqlx over lib/pq with
// idempotent schema creation at startup.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
)

// Open connects to Postgres with pool tuning and verifies the
// connection.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Store bundles the repositories over one connection pool.
type Store struct {
	db *sqlx.DB

	Wallets       *WalletRepo
	Funding       *FundingRepo
	Relationships *RelationshipRepo
	Alerts        *AlertRepo
}

// New wraps an open connection pool.
func New(db *sqlx.DB, logger *slog.Logger) *Store {
	logger = logger.With("component", "storage")
	return &Store{
		db:            db,
		Wallets:       &WalletRepo{db: db, logger: logger},
		Funding:       &FundingRepo{db: db, logger: logger},
		Relationships: &RelationshipRepo{db: db, logger: logger},
		Alerts:        &AlertRepo{db: db, logger: logger},
	}
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the schema when missing. Safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres duplicate-key
// error (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}

const schema = `
CREATE TABLE IF NOT EXISTS wallet_profiles (
    id              BIGSERIAL PRIMARY KEY,
    address         VARCHAR(42) NOT NULL UNIQUE,
    nonce           INTEGER NOT NULL,
    first_seen_at   TIMESTAMPTZ,
    is_fresh        BOOLEAN NOT NULL,
    fresh_threshold INTEGER NOT NULL DEFAULT 5,
    matic_balance   NUMERIC(30, 0),
    usdc_balance    NUMERIC(20, 6),
    analyzed_at     TIMESTAMPTZ NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_wallet_profiles_address ON wallet_profiles (address);
CREATE INDEX IF NOT EXISTS idx_wallet_profiles_fresh ON wallet_profiles (is_fresh, analyzed_at DESC);

CREATE TABLE IF NOT EXISTS funding_transfers (
    id           BIGSERIAL PRIMARY KEY,
    from_address VARCHAR(42) NOT NULL,
    to_address   VARCHAR(42) NOT NULL,
    amount       NUMERIC(30, 6) NOT NULL,
    token        VARCHAR(10) NOT NULL,
    tx_hash      VARCHAR(66) NOT NULL UNIQUE,
    block_number BIGINT NOT NULL,
    timestamp    TIMESTAMPTZ NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_funding_transfers_to ON funding_transfers (to_address);
CREATE INDEX IF NOT EXISTS idx_funding_transfers_from ON funding_transfers (from_address);
CREATE INDEX IF NOT EXISTS idx_funding_transfers_block ON funding_transfers (block_number);

CREATE TABLE IF NOT EXISTS wallet_relationships (
    id                BIGSERIAL PRIMARY KEY,
    wallet_a          VARCHAR(42) NOT NULL,
    wallet_b          VARCHAR(42) NOT NULL,
    relationship_type VARCHAR(20) NOT NULL,
    confidence        NUMERIC(3, 2) NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT uq_wallet_relationship UNIQUE (wallet_a, wallet_b, relationship_type)
);
CREATE INDEX IF NOT EXISTS idx_wallet_relationships_a ON wallet_relationships (wallet_a);
CREATE INDEX IF NOT EXISTS idx_wallet_relationships_b ON wallet_relationships (wallet_b);

CREATE TABLE IF NOT EXISTS alerts (
    alert_id           UUID PRIMARY KEY,
    assessment_id      TEXT,
    wallet_address     VARCHAR(42) NOT NULL,
    market_id          TEXT NOT NULL,
    weighted_score     DOUBLE PRECISION NOT NULL,
    signals_fired      TEXT[] NOT NULL DEFAULT '{}',
    channels_attempted TEXT[] NOT NULL DEFAULT '{}',
    channels_succeeded TEXT[] NOT NULL DEFAULT '{}',
    dedup_key          TEXT NOT NULL,
    user_feedback      BOOLEAN,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_alerts_wallet ON alerts (wallet_address);
CREATE INDEX IF NOT EXISTS idx_alerts_market ON alerts (market_id);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts (created_at DESC);
`
