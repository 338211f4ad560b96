package movement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
	"github.com/rail-service/wallet_ledger/internal/domain/repositories"
	"github.com/rail-service/wallet_ledger/internal/domain/services/dueoffset"
	"github.com/rail-service/wallet_ledger/internal/domain/services/ledger"
	"github.com/rail-service/wallet_ledger/internal/domain/services/pricing"
	"github.com/rail-service/wallet_ledger/pkg/metrics"
)

// RequestWithdraw debits the full requested amount, lets the due offset
// intercept part of the payout and routes the rest to an external payout,
// admin review or an internal counterparty.
//
// A payout failure after commit does not fail the call: the withdrawal is
// reimbursed and the returned record carries the resulting status.
func (s *Service) RequestWithdraw(ctx context.Context, req *entities.WithdrawRequest) (_ *entities.MovementRecord, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "RequestWithdraw")
	defer span.End()
	defer func(start time.Time) { metrics.ObserveMovement("request_withdraw", start, err) }(time.Now())

	if err := req.Validate(); err != nil {
		return nil, domainerrors.ValidationError("withdraw", err.Error())
	}
	span.SetAttributes(
		attribute.String("user_id", req.UserID.String()),
		attribute.String("token", req.Token),
		attribute.Bool("internal", req.IsInternal()),
	)

	if existing, err := s.replay(ctx, req.UserID, req.Options.IdempotencyKey); err != nil || existing != nil {
		return existing, err
	}

	token, err := s.catalog.Token(req.Token)
	if err != nil {
		return nil, err
	}
	if !req.IsInternal() && !token.SupportsNetwork(req.Network) {
		return nil, domainerrors.InvalidPairError(domainerrors.ErrInvalidTokenPair, token.Symbol, req.Network)
	}
	rules, err := s.catalog.Withdraw(token.Symbol, req.Platform)
	if err != nil {
		return nil, err
	}
	price, err := s.prices.PriceUSD(ctx, token)
	if err != nil {
		return nil, err
	}

	serial, requestID, err := s.nextID(ctx, entities.MovementKindWithdraw)
	if err != nil {
		return nil, err
	}
	var depositSerial int64
	var depositRequestID string
	if req.IsInternal() {
		if depositSerial, depositRequestID, err = s.nextID(ctx, entities.MovementKindDeposit); err != nil {
			return nil, err
		}
	}

	var record, mirror *entities.MovementRecord
	var due *dueoffset.DeductResult
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		wallet, balance, recipientWallet, err := s.lockWithdrawWallets(ctx, tx, req, token.Symbol)
		if err != nil {
			return err
		}
		amount, err := s.resolveAmount(req.Amount, req.WithdrawAll, balance)
		if err != nil {
			return err
		}
		if err := checkBounds(amount, rules.MinAmount, rules.MaxAmount); err != nil {
			return err
		}
		charges, err := pricing.ComputeCharges(amount, rules.Fee, rules.Commission, price, s.precision())
		if err != nil {
			return err
		}

		record = newRecord(entities.MovementKindWithdraw, serial, requestID, req.UserID, wallet, req.Options)
		due, err = s.dueOffset.DeductDue(ctx, tx, dueoffset.DeductInput{
			UserID:        req.UserID,
			Token:         token.Symbol,
			MovementID:    record.ID,
			RequestID:     requestID,
			Kind:          entities.MovementKindWithdraw,
			FromAmount:    amount,
			PayableAmount: charges.Net,
			TokenPriceUSD: price,
			BeforeBalance: balance.Available,
		})
		if err != nil {
			return err
		}

		note := fmt.Sprintf("Withdraw %s %s", amount, token.Symbol)
		builder := ledger.NewEntryBuilder(record.ID, requestID, entities.MovementKindWithdraw).
			AddOut(wallet, amount, entities.EntryTypeWithdraw, note).
			WithMetadata(ledger.MetaPriceUSD, price.String()).
			WithMetadata("fee", charges.Fee.String()).
			WithMetadata("commission", charges.Commission.String()).
			WithMetadata("payable_amount", due.RemainingPayable.String())

		if !due.RemainingPayable.IsPositive() {
			recipientWallet = nil
		}
		if recipientWallet != nil {
			builder.AddIn(recipientWallet, due.RemainingPayable, entities.EntryTypeDeposit, "Received from "+requestID).
				WithMetadata("sender_id", req.UserID.String())
		}

		entries, err := builder.Build()
		if err != nil {
			return fmt.Errorf("build withdraw entries: %w", err)
		}
		if err := s.ledger.Post(ctx, tx, entries); err != nil {
			return err
		}

		record.CounterpartyID = req.CounterpartyID
		record.Network = req.Network
		record.Platform = req.Platform
		record.Address = req.Address
		record.Amount = amount
		record.Fee = charges.Fee
		record.Commission = charges.Commission
		record.Total = charges.Net
		record.ConvertedAmount = charges.Net
		record.PayableAmount = due.RemainingPayable
		record.PriceUSD = price
		record.BalanceBefore = balance.Available
		record.BalanceAfter = balance.Available.Sub(amount)
		record.IsDueDeducted = due.IsDeducted
		record.DueDeductedAmount = due.DeductedAmount
		record.EntryIDs = ledger.EntryIDs(entries)
		record.Note = note
		record.Status = s.withdrawStatus(req, rules, amount.Mul(price), due)
		if due.IsDeducted {
			record.SetMetadata("due_offset_id", due.Record.ID.String())
			record.SetMetadata("due_deducted_usd", due.DeductedUSD.String())
			record.SetMetadata("due_is_partial", due.IsPartial)
		}
		if err := tx.Movements().Create(ctx, record); err != nil {
			return fmt.Errorf("create withdraw record: %w", err)
		}

		if recipientWallet != nil {
			mirror = newRecord(entities.MovementKindDeposit, depositSerial, depositRequestID, *req.CounterpartyID, recipientWallet, entities.CallOptions{})
			mirror.Status = entities.MovementStatusCompleted
			mirror.CounterpartyID = &req.UserID
			mirror.Amount = due.RemainingPayable
			mirror.Total = due.RemainingPayable
			mirror.ConvertedAmount = due.RemainingPayable
			mirror.PayableAmount = due.RemainingPayable
			mirror.PriceUSD = price
			mirror.EntryIDs = []uuid.UUID{entries[1].ID}
			mirror.Note = "Internal withdraw " + requestID
			mirror.SetMetadata("source_request_id", requestID)
			if err := tx.Movements().Create(ctx, mirror); err != nil {
				return fmt.Errorf("create mirror deposit record: %w", err)
			}
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

	if due.IsDeducted {
		metrics.DueOffsetsTotal.WithLabelValues(fmt.Sprintf("%t", due.IsPartial)).Inc()
	}
	s.recorded(record, mirror)
	s.logger.Info("Withdraw recorded",
		"request_id", record.RequestID,
		"user_id", record.UserID,
		"amount", record.Amount.String(),
		"payable", record.PayableAmount.String(),
		"status", record.Status,
	)
	s.notify(req.Options, record, "")
	s.notify(req.Options, mirror, "")

	if record.Status == entities.MovementStatusPending {
		return s.dispatchPayout(ctx, record, req.Options)
	}
	return record, nil
}

// lockWithdrawWallets locks the sender and, for internal withdrawals, the
// recipient together before the sender's balance is read. The due wallet is
// locked afterwards by the offset engine.
func (s *Service) lockWithdrawWallets(ctx context.Context, tx repositories.LedgerTx, req *entities.WithdrawRequest, token string) (*entities.Wallet, *entities.Balance, *entities.Wallet, error) {
	if !req.IsInternal() {
		wallet, balance, err := s.ledger.LockWallet(ctx, tx, req.UserID, token)
		return wallet, balance, nil, err
	}
	sender, err := s.ledger.ResolveWallet(ctx, tx, req.UserID, token)
	if err != nil {
		return nil, nil, nil, err
	}
	recipient, err := s.ledger.ResolveWallet(ctx, tx, *req.CounterpartyID, token)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := s.lockWallets(ctx, tx, sender, recipient); err != nil {
		return nil, nil, nil, err
	}
	balance, err := s.ledger.Calculator().Balance(ctx, tx.Entries(), sender.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	return sender, balance, recipient, nil
}

// withdrawStatus routes a committed withdrawal. Fully offset and internal
// withdrawals settle immediately; large ones wait for an admin.
func (s *Service) withdrawStatus(req *entities.WithdrawRequest, rules entities.WithdrawSettings, grossUSD decimal.Decimal, due *dueoffset.DeductResult) entities.MovementStatus {
	switch {
	case due.FullyOffset():
		return entities.MovementStatusCompleted
	case req.IsInternal():
		return entities.MovementStatusCompleted
	case rules.AdminReviewThresholdUSD.IsPositive() && grossUSD.GreaterThan(rules.AdminReviewThresholdUSD):
		return entities.MovementStatusPendingAdminReview
	default:
		return entities.MovementStatusPending
	}
}

// dispatchPayout requests the external payout of a committed pending
// withdrawal. A refusal or timeout is compensated by reimbursement.
func (s *Service) dispatchPayout(ctx context.Context, record *entities.MovementRecord, opts entities.CallOptions) (*entities.MovementRecord, error) {
	if s.payouts == nil {
		return record, nil
	}
	// The withdrawal is already committed; the payout and any reimbursement
	// must finish even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	payoutCtx, cancel := context.WithTimeout(ctx, s.config.PayoutTimeout)
	defer cancel()

	ack, err := s.payouts.RequestPayout(payoutCtx, PayoutRequest{
		RequestID: record.RequestID,
		Token:     record.Token,
		Network:   record.Network,
		Address:   record.Address,
		Amount:    record.PayableAmount,
	})
	if err != nil {
		metrics.PayoutFailuresTotal.WithLabelValues(record.Token).Inc()
		s.logger.Error("Payout request failed, reimbursing",
			"request_id", record.RequestID,
			"user_id", record.UserID,
			"error", err,
		)
		reimbursed, settleErr := s.settle(ctx, record.RequestID, entities.MovementStatusOnchainFailureReimbursed, "payout request failed: "+err.Error(), opts)
		if settleErr != nil {
			s.logger.Error("Reimbursement after payout failure did not complete",
				"request_id", record.RequestID,
				"error", settleErr,
			)
			return record, domainerrors.PostCommitError(record.RequestID, settleErr)
		}
		return reimbursed, nil
	}

	if ack != nil && ack.Reference != "" {
		s.annotate(ctx, record, "payout_reference", ack.Reference)
	}
	return record, nil
}

// annotate stores an audit field without changing the status
func (s *Service) annotate(ctx context.Context, record *entities.MovementRecord, key string, value interface{}) {
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		current, err := tx.Movements().GetByRequestIDForUpdate(ctx, record.RequestID)
		if err != nil {
			return err
		}
		current.SetMetadata(key, value)
		if err := tx.Movements().UpdateStatus(ctx, current, current.Status); err != nil {
			return err
		}
		record.Metadata = current.Metadata
		return nil
	})
	if err != nil {
		s.logger.Warn("Failed to annotate movement",
			"request_id", record.RequestID,
			"key", key,
			"error", err,
		)
	}
}
