package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
)

const entryColumns = `id, wallet_id, user_id, movement_id, direction, amount, entry_type, note,
	metadata AS metadata_json, deleted_at, created_at`

// EntryRepository persists append-only ledger entries
type EntryRepository struct {
	tx *sqlx.Tx
}

type entryRow struct {
	entities.LedgerEntry
	MetadataJSON []byte `db:"metadata_json"`
}

func (row *entryRow) toEntity() (*entities.LedgerEntry, error) {
	entry := row.LedgerEntry
	if len(row.MetadataJSON) > 0 {
		if err := json.Unmarshal(row.MetadataJSON, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal entry metadata: %w", err)
		}
	}
	return &entry, nil
}

// Create inserts one entry
func (r *EntryRepository) Create(ctx context.Context, entry *entities.LedgerEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("validate entry: %w", err)
	}
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal entry metadata: %w", err)
	}

	query := `
		INSERT INTO ledger_entries (
			id, wallet_id, user_id, movement_id, direction, amount,
			entry_type, note, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.tx.ExecContext(ctx, query,
		entry.ID,
		entry.WalletID,
		entry.UserID,
		entry.MovementID,
		entry.Direction,
		entry.Amount,
		entry.Type,
		entry.Note,
		metadataJSON,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create ledger entry: %w", err)
	}
	return nil
}

// Aggregate sums the non-deleted entries of one wallet, optionally as of a time
func (r *EntryRepository) Aggregate(ctx context.Context, filter entities.BalanceFilter) (*entities.EntryTotals, error) {
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE direction = 'IN'), 0)  AS total_in,
			COALESCE(SUM(amount) FILTER (WHERE direction = 'OUT'), 0) AS total_out,
			COALESCE(SUM(amount) FILTER (WHERE direction = 'OUT' AND entry_type = $2), 0) AS total_staked,
			COUNT(*) AS entry_count
		FROM ledger_entries
		WHERE wallet_id = $1
		  AND deleted_at IS NULL
		  AND ($3::timestamptz IS NULL OR created_at <= $3)`

	var totals entities.EntryTotals
	if err := r.tx.GetContext(ctx, &totals, query, filter.WalletID, entities.EntryTypeStake, filter.AsOf); err != nil {
		return nil, fmt.Errorf("aggregate ledger entries: %w", err)
	}
	return &totals, nil
}

// ListByWallet returns entries newest first
func (r *EntryRepository) ListByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*entities.LedgerEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`
	return r.list(ctx, query, walletID, limit, offset)
}

// ListByMovement returns the entries posted for one movement
func (r *EntryRepository) ListByMovement(ctx context.Context, movementID uuid.UUID) ([]*entities.LedgerEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE movement_id = $1
		ORDER BY created_at, id`
	return r.list(ctx, query, movementID)
}

func (r *EntryRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entities.LedgerEntry, error) {
	var rows []entryRow
	if err := r.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	entries := make([]*entities.LedgerEntry, 0, len(rows))
	for i := range rows {
		entry, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
