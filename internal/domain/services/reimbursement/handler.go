// Package reimbursement compensates movements whose external or admin leg
// failed after the ledger had already debited the user.
package reimbursement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
	"github.com/rail-service/wallet_ledger/internal/domain/repositories"
	"github.com/rail-service/wallet_ledger/internal/domain/services/dueoffset"
	"github.com/rail-service/wallet_ledger/internal/domain/services/ledger"
	"github.com/rail-service/wallet_ledger/pkg/logger"
)

// Handler credits back debited wallets with a new entry, never by editing
// or deleting the original one.
type Handler struct {
	ledger    *ledger.Service
	sequence  *ledger.Generator
	dueOffset *dueoffset.Engine
	logger    *logger.Logger
}

// NewHandler creates a reimbursement handler
func NewHandler(ledgerService *ledger.Service, sequence *ledger.Generator, dueOffset *dueoffset.Engine, logger *logger.Logger) *Handler {
	return &Handler{
		ledger:    ledgerService,
		sequence:  sequence,
		dueOffset: dueOffset,
		logger:    logger,
	}
}

// Outcome is everything a reimbursement wrote
type Outcome struct {
	Original      *entities.MovementRecord
	Reimbursement *entities.MovementRecord
	Entry         *entities.LedgerEntry
	DueOffset     *entities.DueOffsetRecord
}

// Reimburse credits the original gross amount back to the debited wallet,
// reverses any due offset and moves original to target. It must run inside
// the caller's unit of work with original read under lock.
func (h *Handler) Reimburse(ctx context.Context, tx repositories.LedgerTx, original *entities.MovementRecord, target entities.MovementStatus, reason string) (*Outcome, error) {
	if !target.IsReimbursed() {
		return nil, domainerrors.InvalidTransitionError(original.RequestID, string(original.Status), string(target))
	}
	if original.Status.IsReimbursed() {
		return nil, domainerrors.AlreadySettledError(original.RequestID, string(original.Status))
	}
	if !original.Status.CanTransitionTo(target) {
		return nil, domainerrors.InvalidTransitionError(original.RequestID, string(original.Status), string(target))
	}

	wallet, err := tx.Wallets().LockForUpdate(ctx, original.WalletID)
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	before, err := h.ledger.Calculator().Balance(ctx, tx.Entries(), wallet.ID)
	if err != nil {
		return nil, err
	}

	serial, requestID, err := h.sequence.Next(ctx, entities.MovementKindReimbursement)
	if err != nil {
		return nil, domainerrors.TransientError("sequence", err)
	}

	note := fmt.Sprintf("Reimbursement for %s: %s", original.RequestID, reason)
	movementID := uuid.New()
	entries, err := ledger.NewEntryBuilder(movementID, requestID, entities.MovementKindReimbursement).
		AddIn(wallet, original.Amount, entities.EntryTypeReimbursement, note).
		WithMetadata("original_request_id", original.RequestID).
		WithMetadata("original_movement_id", original.ID.String()).
		WithMetadata("reason", reason).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build reimbursement entry: %w", err)
	}
	if err := h.ledger.Post(ctx, tx, entries); err != nil {
		return nil, fmt.Errorf("post reimbursement entry: %w", err)
	}

	offset, err := h.dueOffset.Reverse(ctx, tx, original.ID, movementID, requestID)
	if err != nil {
		return nil, fmt.Errorf("reverse due offset: %w", err)
	}

	now := time.Now().UTC()
	reimbursement := &entities.MovementRecord{
		ID:              movementID,
		RequestID:       requestID,
		Serial:          serial,
		Kind:            entities.MovementKindReimbursement,
		Status:          entities.MovementStatusCompleted,
		UserID:          original.UserID,
		WalletID:        wallet.ID,
		Token:           original.Token,
		Network:         original.Network,
		Platform:        original.Platform,
		Amount:          original.Amount,
		Total:           original.Amount,
		ConvertedAmount: original.Amount,
		PayableAmount:   original.Amount,
		PriceUSD:        original.PriceUSD,
		BalanceBefore:   before.Available,
		BalanceAfter:    before.Available.Add(original.Amount),
		EntryIDs:        ledger.EntryIDs(entries),
		Note:            note,
		Metadata: map[string]interface{}{
			"original_request_id": original.RequestID,
			"reason":              reason,
			"due_offset_reverted": offset != nil,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Movements().Create(ctx, reimbursement); err != nil {
		return nil, fmt.Errorf("create reimbursement record: %w", err)
	}

	from := original.Status
	if err := original.TransitionTo(target); err != nil {
		return nil, domainerrors.InvalidTransitionError(original.RequestID, string(from), string(target))
	}
	original.SetMetadata("reimbursement_request_id", requestID)
	original.SetMetadata("reimbursement_reason", reason)
	if err := tx.Movements().UpdateStatus(ctx, original, from); err != nil {
		return nil, fmt.Errorf("update original status: %w", err)
	}

	h.logger.Info("Movement reimbursed",
		"request_id", original.RequestID,
		"reimbursement_request_id", requestID,
		"user_id", original.UserID,
		"amount", original.Amount.String(),
		"status", target,
	)

	return &Outcome{
		Original:      original,
		Reimbursement: reimbursement,
		Entry:         entries[0],
		DueOffset:     offset,
	}, nil
}
