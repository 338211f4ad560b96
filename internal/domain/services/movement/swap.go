package movement

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
	"github.com/rail-service/wallet_ledger/internal/domain/repositories"
	"github.com/rail-service/wallet_ledger/internal/domain/services/ledger"
	"github.com/rail-service/wallet_ledger/internal/domain/services/pricing"
	"github.com/rail-service/wallet_ledger/pkg/metrics"
)

// RequestSwap converts value between two wallets of the same user. The
// commission is taken in the source token before conversion.
func (s *Service) RequestSwap(ctx context.Context, req *entities.SwapRequest) (_ *entities.MovementRecord, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "RequestSwap")
	defer span.End()
	defer func(start time.Time) { metrics.ObserveMovement("request_swap", start, err) }(time.Now())

	if err := req.Validate(); err != nil {
		return nil, domainerrors.ValidationError("swap", err.Error())
	}
	span.SetAttributes(
		attribute.String("user_id", req.UserID.String()),
		attribute.String("from_token", req.FromToken),
		attribute.String("to_token", req.ToToken),
	)

	if existing, err := s.replay(ctx, req.UserID, req.Options.IdempotencyKey); err != nil || existing != nil {
		return existing, err
	}

	from, err := s.catalog.Token(req.FromToken)
	if err != nil {
		return nil, err
	}
	to, err := s.catalog.Token(req.ToToken)
	if err != nil {
		return nil, err
	}
	rules, err := s.catalog.Swap(from.Symbol, to.Symbol)
	if err != nil {
		return nil, err
	}
	prices, err := s.prices.Prices(ctx, from, to)
	if err != nil {
		return nil, err
	}

	serial, requestID, err := s.nextID(ctx, entities.MovementKindSwap)
	if err != nil {
		return nil, err
	}

	var record *entities.MovementRecord
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		source, err := s.ledger.ResolveWallet(ctx, tx, req.UserID, from.Symbol)
		if err != nil {
			return err
		}
		destination, err := s.ledger.ResolveWallet(ctx, tx, req.UserID, to.Symbol)
		if err != nil {
			return err
		}
		if err := s.lockWallets(ctx, tx, source, destination); err != nil {
			return err
		}
		balance, err := s.ledger.Calculator().Balance(ctx, tx.Entries(), source.ID)
		if err != nil {
			return err
		}

		amount := s.round(req.Amount)
		if req.SwapAll {
			amount = s.round(balance.Available)
		}
		if !amount.IsPositive() {
			return domainerrors.InvalidAmountError(amount)
		}
		if err := checkBounds(amount, rules.MinAmount, rules.MaxAmount); err != nil {
			return err
		}
		charges, err := pricing.ComputeCharges(amount, entities.ChargeRule{}, rules.Commission, prices.From, s.precision())
		if err != nil {
			return err
		}
		conversion, err := s.converter.Convert(from, to, charges.Net, prices, pricing.OverrideFromSettings(&rules))
		if err != nil {
			return err
		}
		if !conversion.Amount.IsPositive() {
			return domainerrors.AmountTooLowForChargeError(amount, charges.Commission)
		}
		if amount.GreaterThan(balance.Available) {
			return domainerrors.InsufficientBalanceError(balance.Available, amount)
		}

		record = newRecord(entities.MovementKindSwap, serial, requestID, req.UserID, source, req.Options)
		note := fmt.Sprintf("Swap %s %s to %s %s", amount, from.Symbol, conversion.Amount, to.Symbol)
		entries, err := ledger.NewEntryBuilder(record.ID, requestID, entities.MovementKindSwap).
			AddOut(source, amount, entities.EntryTypeSwap, note).
			WithMetadata(ledger.MetaPriceUSD, prices.From.String()).
			WithMetadata("commission", charges.Commission.String()).
			AddIn(destination, conversion.Amount, entities.EntryTypeSwap, note).
			WithMetadata(ledger.MetaPriceUSD, prices.To.String()).
			WithMetadata("conversion_rule", string(conversion.Rule)).
			Build()
		if err != nil {
			return fmt.Errorf("build swap entries: %w", err)
		}
		if err := s.ledger.Post(ctx, tx, entries); err != nil {
			return err
		}

		record.Status = entities.MovementStatusCompleted
		record.ToToken = to.Symbol
		record.Amount = amount
		record.Commission = charges.Commission
		record.Total = charges.Net
		record.ConvertedAmount = conversion.Amount
		record.PayableAmount = conversion.Amount
		record.PriceUSD = prices.From
		record.BalanceBefore = balance.Available
		record.BalanceAfter = balance.Available.Sub(amount)
		record.EntryIDs = ledger.EntryIDs(entries)
		record.Note = note
		record.SetMetadata("to_wallet_id", destination.ID.String())
		record.SetMetadata("to_price_usd", prices.To.String())
		record.SetMetadata("conversion_rule", string(conversion.Rule))
		if err := tx.Movements().Create(ctx, record); err != nil {
			return fmt.Errorf("create swap record: %w", err)
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
	s.logger.Info("Swap recorded",
		"request_id", record.RequestID,
		"user_id", record.UserID,
		"amount", record.Amount.String(),
		"converted", record.ConvertedAmount.String(),
		"rule", record.Metadata["conversion_rule"],
	)
	s.notify(req.Options, record, "")
	return record, nil
}
