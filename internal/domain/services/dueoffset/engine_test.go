package dueoffset

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
	"github.com/rail-service/wallet_ledger/internal/domain/repositories"
	"github.com/rail-service/wallet_ledger/internal/domain/services/ledger"
	"github.com/rail-service/wallet_ledger/internal/infrastructure/repositories/memory"
	"github.com/rail-service/wallet_ledger/pkg/logger"
)

type staticDueToken struct {
	symbol string
}

func (s staticDueToken) DueToken() (entities.Token, error) {
	if s.symbol == "" {
		return entities.Token{}, domainerrors.MissingSettingError("due_token", nil)
	}
	return entities.Token{Symbol: s.symbol, Pricing: entities.PricingDynamic, ValueType: "USD"}, nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	store  *memory.Store
	engine *Engine
	userID uuid.UUID
}

func newFixture(dueToken string) *fixture {
	svc := ledger.NewService(ledger.NewCalculator(ledger.DefaultPrecision), logger.NewNop())
	return &fixture{
		store:  memory.NewStore(),
		engine: NewEngine(svc, staticDueToken{symbol: dueToken}, logger.NewNop()),
		userID: uuid.New(),
	}
}

func (f *fixture) charge(t *testing.T, amount string) {
	t.Helper()
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
		_, _, err := f.engine.Charge(ctx, tx, f.userID, d(amount), uuid.New(), "DC000001", "late fee")
		return err
	})
	require.NoError(t, err)
}

func (f *fixture) deduct(t *testing.T, in DeductInput) *DeductResult {
	t.Helper()
	var result *DeductResult
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
		var err error
		result, err = f.engine.DeductDue(ctx, tx, in)
		return err
	})
	require.NoError(t, err)
	return result
}

func (f *fixture) due(t *testing.T) decimal.Decimal {
	t.Helper()
	var due decimal.Decimal
	err := f.store.View(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
		var err error
		due, err = f.engine.Balance(ctx, tx, f.userID)
		return err
	})
	require.NoError(t, err)
	return due
}

func (f *fixture) withdrawInput(payable, price string) DeductInput {
	return DeductInput{
		UserID:        f.userID,
		Token:         "USDT",
		MovementID:    uuid.New(),
		RequestID:     "WD000001",
		Kind:          entities.MovementKindWithdraw,
		FromAmount:    d(payable),
		PayableAmount: d(payable),
		TokenPriceUSD: d(price),
		BeforeBalance: d("100"),
	}
}

func TestDeductDue_PartialOffset(t *testing.T) {
	f := newFixture("DUE")
	f.charge(t, "5")

	result := f.deduct(t, f.withdrawInput("10", "1"))

	assert.True(t, result.IsDeducted)
	assert.True(t, result.IsPartial)
	assert.False(t, result.FullyOffset())
	assert.True(t, d("5").Equal(result.DeductedAmount))
	assert.True(t, d("5").Equal(result.RemainingPayable))
	assert.True(t, d("5").Equal(result.DueBalanceBefore))
	assert.True(t, result.DueBalanceAfter.IsZero())
	require.NotNil(t, result.Record)
	assert.NoError(t, result.Record.Validate())
	assert.Equal(t, entities.EntryTypeDueSettlement, result.Entry.Type)

	assert.True(t, f.due(t).IsZero())
}

func TestDeductDue_FullOffset(t *testing.T) {
	f := newFixture("DUE")
	f.charge(t, "20")

	result := f.deduct(t, f.withdrawInput("3", "1"))

	assert.True(t, result.FullyOffset())
	assert.False(t, result.IsPartial)
	assert.True(t, result.RemainingPayable.IsZero())
	assert.True(t, d("17").Equal(f.due(t)))
}

func TestDeductDue_ConvertsThroughPrice(t *testing.T) {
	f := newFixture("DUE")
	f.charge(t, "5")

	in := f.withdrawInput("0.001", "50000")
	in.Token = "BTC"
	result := f.deduct(t, in)

	// 5 USD at 50000 per BTC
	assert.True(t, d("0.0001").Equal(result.DeductedAmount), "got %s", result.DeductedAmount)
	assert.True(t, d("0.0009").Equal(result.RemainingPayable))
	assert.True(t, d("5").Equal(result.DeductedUSD))
}

func TestDeductDue_PassThrough(t *testing.T) {
	t.Run("kind not offsettable", func(t *testing.T) {
		f := newFixture("DUE")
		f.charge(t, "5")
		in := f.withdrawInput("10", "1")
		in.Kind = entities.MovementKindSwap

		result := f.deduct(t, in)
		assert.False(t, result.IsDeducted)
		assert.True(t, d("10").Equal(result.RemainingPayable))
		assert.True(t, d("5").Equal(f.due(t)))
	})

	t.Run("no due", func(t *testing.T) {
		f := newFixture("DUE")
		result := f.deduct(t, f.withdrawInput("10", "1"))
		assert.False(t, result.IsDeducted)
		assert.True(t, d("10").Equal(result.RemainingPayable))
	})

	t.Run("no due token configured", func(t *testing.T) {
		f := newFixture("")
		result := f.deduct(t, f.withdrawInput("10", "1"))
		assert.False(t, result.IsDeducted)
	})
}

func TestDeductDue_RejectsBadInput(t *testing.T) {
	f := newFixture("DUE")
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
		_, err := f.engine.DeductDue(ctx, tx, f.withdrawInput("-1", "1"))
		assert.Equal(t, domainerrors.KindValidation, domainerrors.KindOf(err))

		_, err = f.engine.DeductDue(ctx, tx, f.withdrawInput("10", "0"))
		assert.Error(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestReverse_RestoresDueOnce(t *testing.T) {
	f := newFixture("DUE")
	f.charge(t, "5")
	in := f.withdrawInput("10", "1")
	f.deduct(t, in)
	require.True(t, f.due(t).IsZero())

	reverse := func() *entities.DueOffsetRecord {
		var record *entities.DueOffsetRecord
		err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
			var err error
			record, err = f.engine.Reverse(ctx, tx, in.MovementID, uuid.New(), "RB000001")
			return err
		})
		require.NoError(t, err)
		return record
	}

	record := reverse()
	require.NotNil(t, record)
	assert.True(t, record.IsReverted)
	assert.NotNil(t, record.ReversalEntryID)
	assert.True(t, d("5").Equal(f.due(t)))

	again := reverse()
	assert.True(t, again.IsReverted)
	assert.True(t, d("5").Equal(f.due(t)), "a second reversal must not re-increment the due")
}

func TestReverse_WithoutOffsetIsNoop(t *testing.T) {
	f := newFixture("DUE")
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
		record, err := f.engine.Reverse(ctx, tx, uuid.New(), uuid.New(), "RB000001")
		assert.Nil(t, record)
		return err
	})
	require.NoError(t, err)
}

func TestCharge_RejectsNonPositive(t *testing.T) {
	f := newFixture("DUE")
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
		_, _, err := f.engine.Charge(ctx, tx, f.userID, decimal.Zero, uuid.New(), "DC000001", "")
		return err
	})
	assert.Equal(t, domainerrors.KindValidation, domainerrors.KindOf(err))
	assert.True(t, f.due(t).IsZero())
}
