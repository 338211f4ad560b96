package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	domainrepos "github.com/rail-service/wallet_ledger/internal/domain/repositories"
)

// DepositAddressRepository maps deposit addresses and blockchain ids to users
type DepositAddressRepository struct {
	db *sqlx.DB
}

var _ domainrepos.AddressRepository = (*DepositAddressRepository)(nil)

// NewDepositAddressRepository creates a new deposit address repository
func NewDepositAddressRepository(db *sqlx.DB) *DepositAddressRepository {
	return &DepositAddressRepository{db: db}
}

// Register binds an identity to a user, replacing any earlier binding
func (r *DepositAddressRepository) Register(ctx context.Context, identity string, userID uuid.UUID) error {
	query := `
		INSERT INTO deposit_addresses (identity, user_id)
		VALUES ($1, $2)
		ON CONFLICT (identity) DO UPDATE SET user_id = EXCLUDED.user_id`
	if _, err := r.db.ExecContext(ctx, query, strings.ToLower(identity), userID); err != nil {
		return fmt.Errorf("register deposit address: %w", err)
	}
	return nil
}

// ResolveUser returns the user bound to identity
func (r *DepositAddressRepository) ResolveUser(ctx context.Context, identity string) (uuid.UUID, error) {
	var userID uuid.UUID
	query := `SELECT user_id FROM deposit_addresses WHERE identity = $1`
	if err := r.db.GetContext(ctx, &userID, query, strings.ToLower(identity)); err != nil {
		if nf := notFound(err, "DEPOSIT_ADDRESS", nil); nf != nil {
			return uuid.Nil, nf
		}
		return uuid.Nil, fmt.Errorf("resolve deposit address: %w", err)
	}
	return userID, nil
}
