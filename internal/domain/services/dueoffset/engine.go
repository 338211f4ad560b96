// Package dueoffset redirects part of an outgoing payout to settle a user's
// outstanding due balance, and undoes that redirection on reimbursement.
package dueoffset

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
	"github.com/rail-service/wallet_ledger/internal/domain/repositories"
	"github.com/rail-service/wallet_ledger/internal/domain/services/ledger"
	"github.com/rail-service/wallet_ledger/pkg/logger"
)

// DueTokenSource returns the token due wallets are held in
type DueTokenSource interface {
	DueToken() (entities.Token, error)
}

// Engine settles due balances against outgoing movements
type Engine struct {
	ledger    *ledger.Service
	dueTokens DueTokenSource
	logger    *logger.Logger
}

// NewEngine creates a due offset engine
func NewEngine(ledgerService *ledger.Service, dueTokens DueTokenSource, logger *logger.Logger) *Engine {
	return &Engine{
		ledger:    ledgerService,
		dueTokens: dueTokens,
		logger:    logger,
	}
}

// DeductInput describes the outgoing movement a due balance may intercept
type DeductInput struct {
	UserID     uuid.UUID
	Token      string
	MovementID uuid.UUID
	RequestID  string
	Kind       entities.MovementKind
	// FromAmount is the gross amount debited from the user's wallet.
	FromAmount decimal.Decimal
	// PayableAmount is what would be paid out if no due existed.
	PayableAmount decimal.Decimal
	TokenPriceUSD decimal.Decimal
	// BeforeBalance is the source wallet balance before the movement.
	BeforeBalance decimal.Decimal
}

// DeductResult reports how much of the payable amount was redirected
type DeductResult struct {
	RemainingPayable decimal.Decimal
	IsDeducted       bool
	IsPartial        bool
	DeductedAmount   decimal.Decimal
	DeductedUSD      decimal.Decimal
	DueBalanceBefore decimal.Decimal
	DueBalanceAfter  decimal.Decimal
	Record           *entities.DueOffsetRecord
	Entry            *entities.LedgerEntry
}

// FullyOffset reports whether nothing is left to pay out externally
func (r *DeductResult) FullyOffset() bool {
	return r.IsDeducted && !r.RemainingPayable.IsPositive()
}

func passThrough(in DeductInput, dueBalance decimal.Decimal) *DeductResult {
	return &DeductResult{
		RemainingPayable: in.PayableAmount,
		DeductedAmount:   decimal.Zero,
		DeductedUSD:      decimal.Zero,
		DueBalanceBefore: dueBalance,
		DueBalanceAfter:  dueBalance,
	}
}

// DeductDue settles min(due balance, payable in USD) out of the payable amount.
// It must run inside the same unit of work as the movement it intercepts.
func (e *Engine) DeductDue(ctx context.Context, tx repositories.LedgerTx, in DeductInput) (*DeductResult, error) {
	if in.PayableAmount.IsNegative() {
		return nil, domainerrors.InvalidAmountError(in.PayableAmount)
	}
	if !in.TokenPriceUSD.IsPositive() {
		return nil, domainerrors.InvalidPriceError(in.Token, in.TokenPriceUSD)
	}
	if !in.Kind.Traits().DueOffsettable {
		return passThrough(in, decimal.Zero), nil
	}

	dueToken, err := e.dueTokens.DueToken()
	if err != nil {
		if domainerrors.IsConfiguration(err) {
			// Due offsetting is off when no due token is configured.
			return passThrough(in, decimal.Zero), nil
		}
		return nil, err
	}

	dueWallet, err := e.ledger.ResolveWallet(ctx, tx, in.UserID, dueToken.Symbol)
	if err != nil {
		return nil, fmt.Errorf("resolve due wallet: %w", err)
	}
	if _, err := tx.Wallets().LockForUpdate(ctx, dueWallet.ID); err != nil {
		return nil, fmt.Errorf("lock due wallet: %w", err)
	}

	calc := e.ledger.Calculator()
	dueBalance, err := calc.DueBalance(ctx, tx.Entries(), dueWallet.ID)
	if err != nil {
		return nil, err
	}
	if dueBalance.IsZero() || !in.PayableAmount.IsPositive() {
		return passThrough(in, dueBalance), nil
	}

	payableUSD := in.PayableAmount.Mul(in.TokenPriceUSD)
	deductedUSD := calc.Round(decimal.Min(dueBalance, payableUSD))
	deductedAmount := in.PayableAmount
	if deductedUSD.LessThan(calc.Round(payableUSD)) {
		deductedAmount = calc.Round(deductedUSD.DivRound(in.TokenPriceUSD, 18))
		if deductedAmount.GreaterThan(in.PayableAmount) {
			deductedAmount = in.PayableAmount
		}
	}
	remaining := in.PayableAmount.Sub(deductedAmount)

	offsetID := uuid.New()
	entries, err := ledger.NewEntryBuilder(in.MovementID, in.RequestID, in.Kind).
		AddIn(dueWallet, deductedUSD, entities.EntryTypeDueSettlement, "Due balance settled from "+in.RequestID).
		WithMetadata("due_offset_id", offsetID.String()).
		WithMetadata("source_token", in.Token).
		WithMetadata("deducted_amount", deductedAmount.String()).
		WithMetadata(ledger.MetaPriceUSD, in.TokenPriceUSD.String()).
		WithMetadata("from_amount", in.FromAmount.String()).
		WithMetadata("before_balance", in.BeforeBalance.String()).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build due settlement entry: %w", err)
	}
	if err := e.ledger.Post(ctx, tx, entries); err != nil {
		return nil, fmt.Errorf("post due settlement entry: %w", err)
	}

	dueAfter := dueBalance.Sub(deductedUSD)
	record := &entities.DueOffsetRecord{
		ID:                offsetID,
		UserID:            in.UserID,
		MovementID:        in.MovementID,
		RequestID:         in.RequestID,
		Token:             in.Token,
		RequestedAmount:   in.PayableAmount,
		PayableAmount:     remaining,
		OffsetAmount:      deductedAmount,
		OffsetAmountUSD:   deductedUSD,
		PriceUSD:          in.TokenPriceUSD,
		DueBalanceBefore:  dueBalance,
		DueBalanceAfter:   dueAfter,
		SettlementEntryID: entries[0].ID,
		CreatedAt:         time.Now().UTC(),
	}
	if err := record.Validate(); err != nil {
		return nil, domainerrors.InternalError("due offset split does not add up", err)
	}
	if err := tx.DueOffsets().Create(ctx, record); err != nil {
		return nil, fmt.Errorf("create due offset record: %w", err)
	}

	e.logger.Info("Due balance offset against outgoing movement",
		"request_id", in.RequestID,
		"user_id", in.UserID,
		"deducted_amount", deductedAmount.String(),
		"deducted_usd", deductedUSD.String(),
		"due_balance_after", dueAfter.String(),
	)

	return &DeductResult{
		RemainingPayable: remaining,
		IsDeducted:       true,
		IsPartial:        remaining.IsPositive(),
		DeductedAmount:   deductedAmount,
		DeductedUSD:      deductedUSD,
		DueBalanceBefore: dueBalance,
		DueBalanceAfter:  dueAfter,
		Record:           record,
		Entry:            entries[0],
	}, nil
}

// Reverse re-increments the due balance by the amount a movement settled and
// flips the offset record to reverted. A movement without an offset, or with
// one already reverted, is left untouched.
func (e *Engine) Reverse(ctx context.Context, tx repositories.LedgerTx, movementID uuid.UUID, reversalMovementID uuid.UUID, reversalRequestID string) (*entities.DueOffsetRecord, error) {
	record, err := tx.DueOffsets().GetByMovementID(ctx, movementID)
	if err != nil {
		if domainerrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get due offset: %w", err)
	}
	if record.IsReverted {
		return record, nil
	}

	dueToken, err := e.dueTokens.DueToken()
	if err != nil {
		return nil, err
	}
	dueWallet, err := e.ledger.ResolveWallet(ctx, tx, record.UserID, dueToken.Symbol)
	if err != nil {
		return nil, fmt.Errorf("resolve due wallet: %w", err)
	}
	if _, err := tx.Wallets().LockForUpdate(ctx, dueWallet.ID); err != nil {
		return nil, fmt.Errorf("lock due wallet: %w", err)
	}

	entries, err := ledger.NewEntryBuilder(reversalMovementID, reversalRequestID, entities.MovementKindReimbursement).
		AddOut(dueWallet, record.OffsetAmountUSD, entities.EntryTypeDueSettlementReversal, "Due settlement reversed for "+record.RequestID).
		WithMetadata("due_offset_id", record.ID.String()).
		WithMetadata("settlement_entry_id", record.SettlementEntryID.String()).
		WithMetadata("original_request_id", record.RequestID).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build due reversal entry: %w", err)
	}
	if err := e.ledger.Post(ctx, tx, entries); err != nil {
		return nil, fmt.Errorf("post due reversal entry: %w", err)
	}

	if err := record.MarkReverted(entries[0].ID); err != nil {
		return nil, domainerrors.NewDomainError(domainerrors.KindIdempotency, domainerrors.ErrAlreadyReverted, "ALREADY_REVERTED", err.Error())
	}
	if err := tx.DueOffsets().MarkReverted(ctx, record); err != nil {
		return nil, fmt.Errorf("mark due offset reverted: %w", err)
	}

	e.logger.Info("Due offset reverted",
		"request_id", record.RequestID,
		"user_id", record.UserID,
		"offset_usd", record.OffsetAmountUSD.String(),
	)
	return record, nil
}

// Charge records a new debt on the user's due wallet
func (e *Engine) Charge(ctx context.Context, tx repositories.LedgerTx, userID uuid.UUID, amountUSD decimal.Decimal, movementID uuid.UUID, requestID, note string) (*entities.Wallet, *entities.LedgerEntry, error) {
	if !amountUSD.IsPositive() {
		return nil, nil, domainerrors.InvalidAmountError(amountUSD)
	}
	dueToken, err := e.dueTokens.DueToken()
	if err != nil {
		return nil, nil, err
	}
	dueWallet, err := e.ledger.ResolveWallet(ctx, tx, userID, dueToken.Symbol)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve due wallet: %w", err)
	}
	if _, err := tx.Wallets().LockForUpdate(ctx, dueWallet.ID); err != nil {
		return nil, nil, fmt.Errorf("lock due wallet: %w", err)
	}

	entries, err := ledger.NewEntryBuilder(movementID, requestID, entities.MovementKindDueCharge).
		AddOut(dueWallet, amountUSD, entities.EntryTypeDueCharge, note).
		Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build due charge entry: %w", err)
	}
	if err := e.ledger.Post(ctx, tx, entries); err != nil {
		return nil, nil, fmt.Errorf("post due charge entry: %w", err)
	}
	return dueWallet, entries[0], nil
}

// Balance returns the user's outstanding due in USD
func (e *Engine) Balance(ctx context.Context, tx repositories.LedgerTx, userID uuid.UUID) (decimal.Decimal, error) {
	dueToken, err := e.dueTokens.DueToken()
	if err != nil {
		return decimal.Zero, err
	}
	wallet, err := tx.Wallets().GetByUserToken(ctx, userID, dueToken.Symbol)
	if err != nil {
		if domainerrors.IsNotFound(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return e.ledger.Calculator().DueBalance(ctx, tx.Entries(), wallet.ID)
}
