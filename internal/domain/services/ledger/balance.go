package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
	"github.com/rail-service/wallet_ledger/internal/domain/repositories"
)

// DefaultPrecision is the number of fractional digits balances are rounded to
const DefaultPrecision int32 = 10

// Calculator derives balances by replaying a wallet's ledger entries
type Calculator struct {
	precision int32
}

// NewCalculator creates a calculator rounding to precision fractional digits
func NewCalculator(precision int32) *Calculator {
	if precision <= 0 {
		precision = DefaultPrecision
	}
	return &Calculator{precision: precision}
}

// Precision returns the rounding precision
func (c *Calculator) Precision() int32 {
	return c.precision
}

// Balance returns available = ΣIN − ΣOUT and the staked total of the wallet
func (c *Calculator) Balance(ctx context.Context, entries repositories.EntryRepository, walletID uuid.UUID) (*entities.Balance, error) {
	return c.aggregate(ctx, entries, entities.BalanceFilter{WalletID: walletID})
}

// BalanceAt returns the balance counting only entries created at or before at
func (c *Calculator) BalanceAt(ctx context.Context, entries repositories.EntryRepository, walletID uuid.UUID, at time.Time) (*entities.Balance, error) {
	return c.aggregate(ctx, entries, entities.BalanceFilter{WalletID: walletID, AsOf: &at})
}

// DueBalance returns the outstanding debt of a due wallet. Charges are OUT
// entries and settlements are IN entries, so the debt is ΣOUT − ΣIN.
func (c *Calculator) DueBalance(ctx context.Context, entries repositories.EntryRepository, walletID uuid.UUID) (decimal.Decimal, error) {
	balance, err := c.aggregate(ctx, entries, entities.BalanceFilter{WalletID: walletID})
	if err != nil {
		return decimal.Zero, err
	}
	due := balance.Available.Neg()
	if due.IsNegative() {
		return decimal.Zero, nil
	}
	return due, nil
}

// FromTotals turns raw aggregates into a rounded balance
func (c *Calculator) FromTotals(walletID uuid.UUID, totals *entities.EntryTotals) *entities.Balance {
	return &entities.Balance{
		WalletID:    walletID,
		Available:   totals.TotalIn.Sub(totals.TotalOut).Round(c.precision),
		TotalStaked: totals.TotalStaked.Round(c.precision),
	}
}

// Round applies the calculator precision to an arbitrary amount
func (c *Calculator) Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(c.precision)
}

func (c *Calculator) aggregate(ctx context.Context, entries repositories.EntryRepository, filter entities.BalanceFilter) (*entities.Balance, error) {
	totals, err := entries.Aggregate(ctx, filter)
	if err != nil {
		// A zero balance here could allow an overdraft, so the failure is surfaced.
		return nil, domainerrors.NewDomainError(
			domainerrors.KindTransient,
			errors.Join(domainerrors.ErrBalanceUnavailable, err),
			"BALANCE_UNAVAILABLE",
			"balance could not be computed",
		).WithDetails(map[string]interface{}{"wallet_id": filter.WalletID.String()})
	}
	if totals == nil {
		return nil, domainerrors.InternalError("balance aggregation returned no totals", nil)
	}
	return c.FromTotals(filter.WalletID, totals), nil
}
