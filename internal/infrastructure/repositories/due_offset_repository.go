package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
)

// DueOffsetRepository persists due offset records
type DueOffsetRepository struct {
	tx *sqlx.Tx
}

// Create inserts the offset; a movement has at most one
func (r *DueOffsetRepository) Create(ctx context.Context, record *entities.DueOffsetRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("validate due offset: %w", err)
	}

	query := `
		INSERT INTO due_offset_records (
			id, user_id, movement_id, request_id, token,
			requested_amount, payable_amount, offset_amount, offset_amount_usd, price_usd,
			due_balance_before, due_balance_after, settlement_entry_id,
			reversal_entry_id, is_reverted, reverted_at, created_at
		) VALUES (
			:id, :user_id, :movement_id, :request_id, :token,
			:requested_amount, :payable_amount, :offset_amount, :offset_amount_usd, :price_usd,
			:due_balance_before, :due_balance_after, :settlement_entry_id,
			:reversal_entry_id, :is_reverted, :reverted_at, :created_at
		)`

	if _, err := r.tx.NamedExecContext(ctx, query, record); err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return domainerrors.ConflictError("due_offset", "movement already has a due offset")
		}
		return fmt.Errorf("create due offset: %w", err)
	}
	return nil
}

// GetByMovementID returns the offset taken from a movement
func (r *DueOffsetRepository) GetByMovementID(ctx context.Context, movementID uuid.UUID) (*entities.DueOffsetRecord, error) {
	query := `
		SELECT id, user_id, movement_id, request_id, token,
			requested_amount, payable_amount, offset_amount, offset_amount_usd, price_usd,
			due_balance_before, due_balance_after, settlement_entry_id,
			reversal_entry_id, is_reverted, reverted_at, created_at
		FROM due_offset_records
		WHERE movement_id = $1`

	var record entities.DueOffsetRecord
	if err := r.tx.GetContext(ctx, &record, query, movementID); err != nil {
		if nf := notFound(err, "DUE_OFFSET", nil); nf != nil {
			return nil, nf
		}
		return nil, fmt.Errorf("get due offset: %w", err)
	}
	return &record, nil
}

// MarkReverted flips is_reverted once; a second call is a conflict
func (r *DueOffsetRepository) MarkReverted(ctx context.Context, record *entities.DueOffsetRecord) error {
	query := `
		UPDATE due_offset_records
		SET is_reverted = TRUE, reversal_entry_id = $1, reverted_at = $2
		WHERE movement_id = $3 AND is_reverted = FALSE`

	result, err := r.tx.ExecContext(ctx, query, record.ReversalEntryID, record.RevertedAt, record.MovementID)
	if err != nil {
		return fmt.Errorf("revert due offset: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := r.GetByMovementID(ctx, record.MovementID); err != nil {
			return err
		}
		return domainerrors.ConflictError("due_offset", "already reverted")
	}
	return nil
}
