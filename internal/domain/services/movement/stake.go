package movement

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
	"github.com/rail-service/wallet_ledger/internal/domain/repositories"
	"github.com/rail-service/wallet_ledger/internal/domain/services/ledger"
	"github.com/rail-service/wallet_ledger/pkg/metrics"
)

// Stake locks part of a wallet's balance. Staked value leaves the available
// balance and is reported as totalStaked.
func (s *Service) Stake(ctx context.Context, req *entities.StakeRequest) (_ *entities.MovementRecord, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Stake")
	defer span.End()
	defer func(start time.Time) { metrics.ObserveMovement("stake", start, err) }(time.Now())

	if err := req.Validate(); err != nil {
		return nil, domainerrors.ValidationError("stake", err.Error())
	}
	if existing, err := s.replay(ctx, req.UserID, req.Options.IdempotencyKey); err != nil || existing != nil {
		return existing, err
	}
	token, err := s.catalog.Token(req.Token)
	if err != nil {
		return nil, err
	}
	serial, requestID, err := s.nextID(ctx, entities.MovementKindStake)
	if err != nil {
		return nil, err
	}

	var record *entities.MovementRecord
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		wallet, balance, err := s.ledger.LockWallet(ctx, tx, req.UserID, token.Symbol)
		if err != nil {
			return err
		}
		amount, err := s.resolveAmount(req.Amount, false, balance)
		if err != nil {
			return err
		}

		record = newRecord(entities.MovementKindStake, serial, requestID, req.UserID, wallet, req.Options)
		note := fmt.Sprintf("Stake %s %s", amount, token.Symbol)
		entries, err := ledger.NewEntryBuilder(record.ID, requestID, entities.MovementKindStake).
			AddOut(wallet, amount, entities.EntryTypeStake, note).
			Build()
		if err != nil {
			return fmt.Errorf("build stake entry: %w", err)
		}
		if err := s.ledger.Post(ctx, tx, entries); err != nil {
			return err
		}

		record.Status = entities.MovementStatusCompleted
		record.Amount = amount
		record.Total = amount
		record.ConvertedAmount = amount
		record.PayableAmount = amount
		record.BalanceBefore = balance.Available
		record.BalanceAfter = balance.Available.Sub(amount)
		record.EntryIDs = ledger.EntryIDs(entries)
		record.Note = note
		if err := tx.Movements().Create(ctx, record); err != nil {
			return fmt.Errorf("create stake record: %w", err)
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
	s.logger.Info("Stake recorded", "request_id", record.RequestID, "user_id", record.UserID, "amount", record.Amount.String())
	s.notify(req.Options, record, "")
	return record, nil
}
