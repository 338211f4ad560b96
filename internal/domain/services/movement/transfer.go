package movement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
	"github.com/rail-service/wallet_ledger/internal/domain/repositories"
	"github.com/rail-service/wallet_ledger/internal/domain/services/ledger"
	"github.com/rail-service/wallet_ledger/pkg/metrics"
)

// RequestTransfer moves value between two users at no charge. It completes
// immediately and gives the recipient a deposit record of their own.
func (s *Service) RequestTransfer(ctx context.Context, req *entities.TransferRequest) (_ *entities.MovementRecord, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "RequestTransfer")
	defer span.End()
	defer func(start time.Time) { metrics.ObserveMovement("request_transfer", start, err) }(time.Now())

	if err := req.Validate(); err != nil {
		return nil, domainerrors.ValidationError("transfer", err.Error())
	}
	span.SetAttributes(
		attribute.String("user_id", req.UserID.String()),
		attribute.String("recipient_id", req.RecipientID.String()),
		attribute.String("token", req.Token),
	)

	if existing, err := s.replay(ctx, req.UserID, req.Options.IdempotencyKey); err != nil || existing != nil {
		return existing, err
	}

	token, err := s.catalog.Token(req.Token)
	if err != nil {
		return nil, err
	}
	serial, requestID, err := s.nextID(ctx, entities.MovementKindTransfer)
	if err != nil {
		return nil, err
	}
	depositSerial, depositRequestID, err := s.nextID(ctx, entities.MovementKindDeposit)
	if err != nil {
		return nil, err
	}

	var record, mirror *entities.MovementRecord
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		sender, err := s.ledger.ResolveWallet(ctx, tx, req.UserID, token.Symbol)
		if err != nil {
			return err
		}
		recipient, err := s.ledger.ResolveWallet(ctx, tx, req.RecipientID, token.Symbol)
		if err != nil {
			return err
		}
		if err := s.lockWallets(ctx, tx, sender, recipient); err != nil {
			return err
		}
		balance, err := s.ledger.Calculator().Balance(ctx, tx.Entries(), sender.ID)
		if err != nil {
			return err
		}
		amount, err := s.resolveAmount(req.Amount, req.TransferAll, balance)
		if err != nil {
			return err
		}

		record = newRecord(entities.MovementKindTransfer, serial, requestID, req.UserID, sender, req.Options)
		mirror = newRecord(entities.MovementKindDeposit, depositSerial, depositRequestID, req.RecipientID, recipient, entities.CallOptions{})

		entries, err := ledger.NewEntryBuilder(record.ID, requestID, entities.MovementKindTransfer).
			AddOut(sender, amount, entities.EntryTypeTransfer, "Transfer to "+req.RecipientID.String()).
			AddIn(recipient, amount, entities.EntryTypeTransfer, "Transfer from "+req.UserID.String()).
			WithMetadata("deposit_request_id", depositRequestID).
			Build()
		if err != nil {
			return fmt.Errorf("build transfer entries: %w", err)
		}
		if err := s.ledger.Post(ctx, tx, entries); err != nil {
			return err
		}

		record.Status = entities.MovementStatusCompleted
		record.CounterpartyID = &req.RecipientID
		record.Amount = amount
		record.Total = amount
		record.ConvertedAmount = amount
		record.PayableAmount = amount
		record.BalanceBefore = balance.Available
		record.BalanceAfter = balance.Available.Sub(amount)
		record.EntryIDs = ledger.EntryIDs(entries)
		record.Note = fmt.Sprintf("Transfer %s %s", amount, token.Symbol)
		if err := tx.Movements().Create(ctx, record); err != nil {
			return fmt.Errorf("create transfer record: %w", err)
		}

		mirror.Status = entities.MovementStatusCompleted
		mirror.CounterpartyID = &req.UserID
		mirror.Amount = amount
		mirror.Total = amount
		mirror.ConvertedAmount = amount
		mirror.PayableAmount = amount
		mirror.EntryIDs = []uuid.UUID{entries[1].ID}
		mirror.Note = "Transfer " + requestID
		mirror.SetMetadata("source_request_id", requestID)
		if err := tx.Movements().Create(ctx, mirror); err != nil {
			return fmt.Errorf("create transfer deposit record: %w", err)
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

	s.recorded(record, mirror)
	s.logger.Info("Transfer recorded",
		"request_id", record.RequestID,
		"user_id", record.UserID,
		"recipient_id", req.RecipientID,
		"amount", record.Amount.String(),
	)
	s.notify(req.Options, record, "")
	s.notify(req.Options, mirror, "")
	return record, nil
}
