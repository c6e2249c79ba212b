package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Relationship kinds stored in wallet_relationships.
const (
	RelationshipFunding = "funding" // one wallet funded the other
	RelationshipCluster = "cluster" // wallets share a sniper cluster
)

// WalletRelationship is a graph edge between two wallets.
type WalletRelationship struct {
	WalletA    string    `db:"wallet_a"`
	WalletB    string    `db:"wallet_b"`
	Type       string    `db:"relationship_type"`
	Confidence float64   `db:"confidence"`
	CreatedAt  time.Time `db:"created_at"`
}

// RelationshipRepo persists the wallet linkage graph.
type RelationshipRepo struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Upsert inserts an edge or refreshes its confidence.
func (r *RelationshipRepo) Upsert(ctx context.Context, rel WalletRelationship) error {
	const query = `
		INSERT INTO wallet_relationships (wallet_a, wallet_b, relationship_type, confidence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT uq_wallet_relationship
		DO UPDATE SET confidence = EXCLUDED.confidence`

	_, err := r.db.ExecContext(ctx, query,
		strings.ToLower(rel.WalletA), strings.ToLower(rel.WalletB), rel.Type, rel.Confidence)
	if err != nil {
		return fmt.Errorf("upsert wallet relationship: %w", err)
	}
	return nil
}

// Relationships lists edges touching a wallet, optionally filtered by
// kind.
func (r *RelationshipRepo) Relationships(ctx context.Context, wallet, relType string) ([]WalletRelationship, error) {
	query := `
		SELECT wallet_a, wallet_b, relationship_type, confidence, created_at
		FROM wallet_relationships
		WHERE (wallet_a = $1 OR wallet_b = $1)`
	args := []any{strings.ToLower(wallet)}
	if relType != "" {
		query += ` AND relationship_type = $2`
		args = append(args, relType)
	}

	var rels []WalletRelationship
	if err := r.db.SelectContext(ctx, &rels, query, args...); err != nil {
		return nil, fmt.Errorf("query wallet relationships: %w", err)
	}
	return rels, nil
}

// RelatedWallets returns the addresses on the far side of every edge
// touching the wallet.
func (r *RelationshipRepo) RelatedWallets(ctx context.Context, wallet, relType string) ([]string, error) {
	rels, err := r.Relationships(ctx, wallet, relType)
	if err != nil {
		return nil, err
	}
	normalized := strings.ToLower(wallet)
	seen := make(map[string]bool, len(rels))
	var related []string
	for _, rel := range rels {
		other := rel.WalletB
		if rel.WalletB == normalized {
			other = rel.WalletA
		}
		if !seen[other] {
			seen[other] = true
			related = append(related, other)
		}
	}
	return related, nil
}

// Delete removes one edge. Returns false when it did not exist.
func (r *RelationshipRepo) Delete(ctx context.Context, walletA, walletB, relType string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM wallet_relationships
		 WHERE wallet_a = $1 AND wallet_b = $2 AND relationship_type = $3`,
		strings.ToLower(walletA), strings.ToLower(walletB), relType)
	if err != nil {
		return false, fmt.Errorf("delete wallet relationship: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
