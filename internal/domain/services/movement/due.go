package movement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
	"github.com/rail-service/wallet_ledger/internal/domain/repositories"
	"github.com/rail-service/wallet_ledger/pkg/metrics"
)

// ChargeDue records a debt on the user's due wallet. Later withdrawals
// settle it before anything is paid out.
func (s *Service) ChargeDue(ctx context.Context, req *entities.DueChargeRequest) (_ *entities.MovementRecord, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ChargeDue")
	defer span.End()
	defer func(start time.Time) { metrics.ObserveMovement("charge_due", start, err) }(time.Now())

	if err := req.Validate(); err != nil {
		return nil, domainerrors.ValidationError("due_charge", err.Error())
	}
	if existing, err := s.replay(ctx, req.UserID, req.Options.IdempotencyKey); err != nil || existing != nil {
		return existing, err
	}
	serial, requestID, err := s.nextID(ctx, entities.MovementKindDueCharge)
	if err != nil {
		return nil, err
	}

	note := req.Note
	if note == "" {
		note = "Due charge " + requestID
	}
	amount := s.round(req.AmountUSD)
	movementID := uuid.New()

	var record *entities.MovementRecord
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		wallet, entry, err := s.dueOffset.Charge(ctx, tx, req.UserID, amount, movementID, requestID, note)
		if err != nil {
			return err
		}
		after, err := s.ledger.Calculator().Balance(ctx, tx.Entries(), wallet.ID)
		if err != nil {
			return err
		}

		record = newRecord(entities.MovementKindDueCharge, serial, requestID, req.UserID, wallet, req.Options)
		record.ID = movementID
		record.Status = entities.MovementStatusCompleted
		record.Amount = amount
		record.Total = amount
		record.ConvertedAmount = amount
		record.PayableAmount = amount
		record.PriceUSD = decimal.NewFromInt(1)
		record.BalanceBefore = after.Available.Add(amount)
		record.BalanceAfter = after.Available
		record.EntryIDs = []uuid.UUID{entry.ID}
		record.Note = note
		if err := tx.Movements().Create(ctx, record); err != nil {
			return fmt.Errorf("create due charge record: %w", err)
		}
		return nil
	})
	if err != nil {
		if existing, replayErr := s.resolveConflict(ctx, req.UserID, req.Options.IdempotencyKey, err); replayErr == nil {
			return existing, nil
		}
		span.RecordError(err)
		return nil, err
	}

	s.recorded(record)
	s.logger.Info("Due charged", "request_id", record.RequestID, "user_id", record.UserID, "amount_usd", amount.String())
	s.notify(req.Options, record, "")
	return record, nil
}

// GetDueBalance returns the user's outstanding due in USD
func (s *Service) GetDueBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	due := decimal.Zero
	err := s.store.View(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		balance, err := s.dueOffset.Balance(ctx, tx, userID)
		if err != nil {
			return err
		}
		due = balance
		return nil
	})
	return due, err
}
