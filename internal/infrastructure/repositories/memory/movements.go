package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
)

type movementRepo struct {
	state *state
}

func idempotencyKey(userID uuid.UUID, key string) string {
	return userID.String() + "|" + key
}

func cloneMovement(m *entities.MovementRecord) *entities.MovementRecord {
	copied := *m
	copied.EntryIDs = append([]uuid.UUID(nil), m.EntryIDs...)
	if m.Metadata != nil {
		copied.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			copied.Metadata[k] = v
		}
	}
	return &copied
}

func (r *movementRepo) Create(ctx context.Context, movement *entities.MovementRecord) error {
	if _, ok := r.state.requestIDs[movement.RequestID]; ok {
		return domainerrors.ConflictError("movement", "request id already exists")
	}
	if movement.ExternalHash != "" {
		if _, ok := r.state.hashes[movement.ExternalHash]; ok {
			return domainerrors.DuplicateExternalHashError(movement.ExternalHash)
		}
	}
	if movement.IdempotencyKey != "" {
		if _, ok := r.state.idempotency[idempotencyKey(movement.UserID, movement.IdempotencyKey)]; ok {
			return domainerrors.ConflictError("movement", "idempotency key already used")
		}
	}

	r.state.movements[movement.ID] = cloneMovement(movement)
	r.state.requestIDs[movement.RequestID] = movement.ID
	if movement.ExternalHash != "" {
		r.state.hashes[movement.ExternalHash] = movement.ID
	}
	if movement.IdempotencyKey != "" {
		r.state.idempotency[idempotencyKey(movement.UserID, movement.IdempotencyKey)] = movement.ID
	}
	return nil
}

func (r *movementRepo) GetByID(ctx context.Context, id uuid.UUID) (*entities.MovementRecord, error) {
	m, ok := r.state.movements[id]
	if !ok {
		return nil, domainerrors.NotFoundError("MOVEMENT", domainerrors.ErrMovementNotFound)
	}
	return cloneMovement(m), nil
}

func (r *movementRepo) GetByRequestID(ctx context.Context, requestID string) (*entities.MovementRecord, error) {
	id, ok := r.state.requestIDs[requestID]
	if !ok {
		return nil, domainerrors.NotFoundError("MOVEMENT", domainerrors.ErrMovementNotFound)
	}
	return r.GetByID(ctx, id)
}

func (r *movementRepo) GetByRequestIDForUpdate(ctx context.Context, requestID string) (*entities.MovementRecord, error) {
	return r.GetByRequestID(ctx, requestID)
}

func (r *movementRepo) GetByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*entities.MovementRecord, error) {
	id, ok := r.state.idempotency[idempotencyKey(userID, key)]
	if !ok {
		return nil, domainerrors.NotFoundError("MOVEMENT", domainerrors.ErrMovementNotFound)
	}
	return r.GetByID(ctx, id)
}

func (r *movementRepo) ExistsByExternalHash(ctx context.Context, hash string) (bool, error) {
	_, ok := r.state.hashes[hash]
	return ok, nil
}

func (r *movementRepo) UpdateStatus(ctx context.Context, movement *entities.MovementRecord, from entities.MovementStatus) error {
	stored, ok := r.state.movements[movement.ID]
	if !ok {
		return domainerrors.NotFoundError("MOVEMENT", domainerrors.ErrMovementNotFound)
	}
	if stored.Status != from {
		return domainerrors.ConflictError("movement", "status changed concurrently")
	}
	updated := cloneMovement(stored)
	updated.Status = movement.Status
	updated.Metadata = cloneMovement(movement).Metadata
	updated.UpdatedAt = movement.UpdatedAt
	r.state.movements[movement.ID] = updated
	return nil
}
