package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
)

const movementSelect = `
	SELECT id, request_id, serial, kind, status, user_id, wallet_id, counterparty_id,
		token, to_token, network, platform, address,
		COALESCE(external_hash, '') AS external_hash,
		COALESCE(idempotency_key, '') AS idempotency_key,
		amount, fee, commission, total, converted_amount, payable_amount, price_usd,
		balance_before, balance_after, is_due_deducted, due_deducted_amount,
		entry_ids::text[] AS entry_ids_raw, note, metadata AS metadata_json,
		created_at, updated_at
	FROM movement_records`

// MovementRepository persists movement records
type MovementRepository struct {
	tx *sqlx.Tx
}

type movementRow struct {
	entities.MovementRecord
	EntryIDsRaw  pq.StringArray `db:"entry_ids_raw"`
	MetadataJSON []byte         `db:"metadata_json"`
}

func (row *movementRow) toEntity() (*entities.MovementRecord, error) {
	record := row.MovementRecord
	record.EntryIDs = make([]uuid.UUID, 0, len(row.EntryIDsRaw))
	for _, raw := range row.EntryIDsRaw {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse entry id %q: %w", raw, err)
		}
		record.EntryIDs = append(record.EntryIDs, id)
	}
	if len(row.MetadataJSON) > 0 {
		if err := json.Unmarshal(row.MetadataJSON, &record.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal movement metadata: %w", err)
		}
	}
	return &record, nil
}

func entryIDArray(ids []uuid.UUID) interface{} {
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	return pq.Array(raw)
}

func metadataJSON(metadata map[string]interface{}) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return json.Marshal(metadata)
}

// Create inserts a movement; unique request id, external hash and
// idempotency key violations are reported as domain errors
func (r *MovementRepository) Create(ctx context.Context, m *entities.MovementRecord) error {
	meta, err := metadataJSON(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshal movement metadata: %w", err)
	}

	query := `
		INSERT INTO movement_records (
			id, request_id, serial, kind, status, user_id, wallet_id, counterparty_id,
			token, to_token, network, platform, address, external_hash, idempotency_key,
			amount, fee, commission, total, converted_amount, payable_amount, price_usd,
			balance_before, balance_after, is_due_deducted, due_deducted_amount,
			entry_ids, note, metadata, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27::uuid[], $28, $29, $30, $31
		)`

	_, err = r.tx.ExecContext(ctx, query,
		m.ID, m.RequestID, m.Serial, m.Kind, m.Status, m.UserID, m.WalletID, m.CounterpartyID,
		m.Token, m.ToToken, m.Network, m.Platform, m.Address,
		nullString(m.ExternalHash), nullString(m.IdempotencyKey),
		m.Amount, m.Fee, m.Commission, m.Total, m.ConvertedAmount, m.PayableAmount, m.PriceUSD,
		m.BalanceBefore, m.BalanceAfter, m.IsDueDeducted, m.DueDeductedAmount,
		entryIDArray(m.EntryIDs), m.Note, meta, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok {
			switch constraint {
			case externalHashIndex:
				return domainerrors.DuplicateExternalHashError(m.ExternalHash)
			default:
				return domainerrors.ConflictError("movement", constraint)
			}
		}
		return fmt.Errorf("create movement: %w", err)
	}
	return nil
}

func (r *MovementRepository) get(ctx context.Context, query string, args ...interface{}) (*entities.MovementRecord, error) {
	var row movementRow
	if err := r.tx.GetContext(ctx, &row, query, args...); err != nil {
		if nf := notFound(err, "MOVEMENT", domainerrors.ErrMovementNotFound); nf != nil {
			return nil, nf
		}
		return nil, fmt.Errorf("get movement: %w", err)
	}
	return row.toEntity()
}

// GetByID retrieves a movement by primary key
func (r *MovementRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.MovementRecord, error) {
	return r.get(ctx, movementSelect+` WHERE id = $1`, id)
}

// GetByRequestID retrieves a movement by its public request id
func (r *MovementRepository) GetByRequestID(ctx context.Context, requestID string) (*entities.MovementRecord, error) {
	return r.get(ctx, movementSelect+` WHERE request_id = $1`, requestID)
}

// GetByRequestIDForUpdate retrieves and row-locks a movement
func (r *MovementRepository) GetByRequestIDForUpdate(ctx context.Context, requestID string) (*entities.MovementRecord, error) {
	return r.get(ctx, movementSelect+` WHERE request_id = $1 FOR UPDATE`, requestID)
}

// GetByIdempotencyKey retrieves the movement a client key already produced
func (r *MovementRepository) GetByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*entities.MovementRecord, error) {
	return r.get(ctx, movementSelect+` WHERE user_id = $1 AND idempotency_key = $2`, userID, key)
}

// ExistsByExternalHash reports whether a deposit hash was already recorded
func (r *MovementRepository) ExistsByExternalHash(ctx context.Context, hash string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM movement_records WHERE external_hash = $1)`
	if err := r.tx.GetContext(ctx, &exists, query, hash); err != nil {
		return false, fmt.Errorf("check external hash: %w", err)
	}
	return exists, nil
}

// UpdateStatus writes status and metadata only if the stored status equals from
func (r *MovementRepository) UpdateStatus(ctx context.Context, m *entities.MovementRecord, from entities.MovementStatus) error {
	meta, err := metadataJSON(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshal movement metadata: %w", err)
	}

	query := `
		UPDATE movement_records
		SET status = $1, metadata = $2, updated_at = $3
		WHERE id = $4 AND status = $5`

	result, err := r.tx.ExecContext(ctx, query, m.Status, meta, m.UpdatedAt, m.ID, from)
	if err != nil {
		return fmt.Errorf("update movement status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := r.GetByID(ctx, m.ID); err != nil {
			return err
		}
		return domainerrors.ConflictError("movement", "status changed concurrently")
	}
	return nil
}
