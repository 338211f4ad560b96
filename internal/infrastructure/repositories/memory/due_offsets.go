package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
)

type dueOffsetRepo struct {
	state *state
}

func (r *dueOffsetRepo) Create(ctx context.Context, record *entities.DueOffsetRecord) error {
	if _, ok := r.state.dueOffsets[record.MovementID]; ok {
		return domainerrors.ConflictError("due_offset", "movement already has a due offset")
	}
	copied := *record
	r.state.dueOffsets[record.MovementID] = &copied
	return nil
}

func (r *dueOffsetRepo) GetByMovementID(ctx context.Context, movementID uuid.UUID) (*entities.DueOffsetRecord, error) {
	record, ok := r.state.dueOffsets[movementID]
	if !ok {
		return nil, domainerrors.NotFoundError("DUE_OFFSET", nil)
	}
	copied := *record
	return &copied, nil
}

func (r *dueOffsetRepo) MarkReverted(ctx context.Context, record *entities.DueOffsetRecord) error {
	stored, ok := r.state.dueOffsets[record.MovementID]
	if !ok {
		return domainerrors.NotFoundError("DUE_OFFSET", nil)
	}
	if stored.IsReverted {
		return domainerrors.ConflictError("due_offset", "already reverted")
	}
	copied := *stored
	copied.IsReverted = true
	copied.ReversalEntryID = record.ReversalEntryID
	copied.RevertedAt = record.RevertedAt
	r.state.dueOffsets[record.MovementID] = &copied
	return nil
}
