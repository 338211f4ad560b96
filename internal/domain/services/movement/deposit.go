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

// RecordDeposit credits an inbound transfer observed on chain. Deposits
// below the configured minimum are recorded as failed without a ledger entry.
func (s *Service) RecordDeposit(ctx context.Context, req *entities.DepositRequest) (_ *entities.MovementRecord, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "RecordDeposit")
	defer span.End()
	defer func(start time.Time) { metrics.ObserveMovement("record_deposit", start, err) }(time.Now())

	if err := req.Validate(); err != nil {
		return nil, domainerrors.ValidationError("deposit", err.Error())
	}
	span.SetAttributes(
		attribute.String("token", req.Token),
		attribute.String("external_hash", req.ExternalHash),
	)

	userID, err := s.resolveIdentity(ctx, req.Identity)
	if err != nil {
		return nil, err
	}
	if existing, err := s.replay(ctx, userID, req.Options.IdempotencyKey); err != nil || existing != nil {
		return existing, err
	}

	token, err := s.catalog.Token(req.Token)
	if err != nil {
		return nil, err
	}
	if req.Network != "" && !token.SupportsNetwork(req.Network) {
		return nil, domainerrors.InvalidPairError(domainerrors.ErrInvalidTokenPair, token.Symbol, req.Network)
	}
	rules, err := s.catalog.Deposit(token.Symbol)
	if err != nil {
		return nil, err
	}
	if err := s.checkExternalHash(ctx, req.ExternalHash); err != nil {
		return nil, err
	}

	serial, requestID, err := s.nextID(ctx, entities.MovementKindDeposit)
	if err != nil {
		return nil, err
	}

	var record *entities.MovementRecord
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		exists, err := tx.Movements().ExistsByExternalHash(ctx, req.ExternalHash)
		if err != nil {
			return fmt.Errorf("check external hash: %w", err)
		}
		if exists {
			return domainerrors.DuplicateExternalHashError(req.ExternalHash)
		}

		wallet, balance, err := s.ledger.LockWallet(ctx, tx, userID, token.Symbol)
		if err != nil {
			return err
		}
		amount := s.round(req.Amount)

		record = newRecord(entities.MovementKindDeposit, serial, requestID, userID, wallet, req.Options)
		record.Network = req.Network
		record.ExternalHash = req.ExternalHash
		record.Amount = amount
		record.Total = amount
		record.ConvertedAmount = amount
		record.PayableAmount = amount
		record.BalanceBefore = balance.Available
		record.SetMetadata("identity", req.Identity)

		if rules.MinAmount.IsPositive() && amount.LessThan(rules.MinAmount) {
			record.Status = entities.MovementStatusFailed
			record.BalanceAfter = balance.Available
			record.Note = fmt.Sprintf("Deposit below minimum of %s %s", rules.MinAmount, token.Symbol)
			record.SetMetadata("failure_reason", "below_minimum")
			record.EntryIDs = []uuid.UUID{}
			return createDeposit(ctx, tx, record)
		}

		note := fmt.Sprintf("Deposit %s %s", amount, token.Symbol)
		entries, err := ledger.NewEntryBuilder(record.ID, requestID, entities.MovementKindDeposit).
			AddIn(wallet, amount, entities.EntryTypeDeposit, note).
			WithMetadata("external_hash", req.ExternalHash).
			Build()
		if err != nil {
			return fmt.Errorf("build deposit entry: %w", err)
		}
		if err := s.ledger.Post(ctx, tx, entries); err != nil {
			return err
		}

		record.Status = entities.MovementStatusCompleted
		record.BalanceAfter = balance.Available.Add(amount)
		record.EntryIDs = ledger.EntryIDs(entries)
		record.Note = note
		return createDeposit(ctx, tx, record)
	})
	if err != nil {
		if existing, replayErr := s.resolveConflict(ctx, userID, req.Options.IdempotencyKey, err); replayErr == nil {
			return existing, nil
		}
		span.RecordError(err)
		return nil, err
	}

	s.recorded(record)
	s.logger.Info("Deposit recorded",
		"request_id", record.RequestID,
		"user_id", record.UserID,
		"amount", record.Amount.String(),
		"status", record.Status,
	)
	s.notify(req.Options, record, "")
	return record, nil
}

func createDeposit(ctx context.Context, tx repositories.LedgerTx, record *entities.MovementRecord) error {
	if err := tx.Movements().Create(ctx, record); err != nil {
		return fmt.Errorf("create deposit record: %w", err)
	}
	return nil
}

func (s *Service) checkExternalHash(ctx context.Context, hash string) error {
	return s.store.View(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		exists, err := tx.Movements().ExistsByExternalHash(ctx, hash)
		if err != nil {
			return fmt.Errorf("check external hash: %w", err)
		}
		if exists {
			return domainerrors.DuplicateExternalHashError(hash)
		}
		return nil
	})
}

// resolveIdentity accepts either a user id or an external identity such as
// a deposit address or blockchain id.
func (s *Service) resolveIdentity(ctx context.Context, identity string) (uuid.UUID, error) {
	if id, err := uuid.Parse(identity); err == nil {
		return id, nil
	}
	if s.identities == nil {
		return uuid.Nil, domainerrors.MissingSettingError("identity resolver", nil)
	}
	userID, err := s.identities.ResolveUser(ctx, identity)
	if err != nil {
		if domainerrors.IsNotFound(err) {
			return uuid.Nil, err
		}
		return uuid.Nil, domainerrors.TransientError("identity resolver", err)
	}
	return userID, nil
}
