package pricing

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
)

// PriceOracle supplies live market prices. Implementations must return an
// error rather than a stale or zero price.
type PriceOracle interface {
	GetCurrentPrice(ctx context.Context, pair string) (*entities.PriceQuote, error)
}

// PriceResolver answers "how many USD is one unit of this token worth"
type PriceResolver struct {
	oracle PriceOracle
}

// NewPriceResolver creates a resolver backed by oracle
func NewPriceResolver(oracle PriceOracle) *PriceResolver {
	return &PriceResolver{oracle: oracle}
}

// PriceUSD returns the USD value of one unit of token. USD-denominated
// tokens are 1, custom tokens use their configured rate, dynamic tokens ask
// the oracle and fail when it cannot answer.
func (r *PriceResolver) PriceUSD(ctx context.Context, token entities.Token) (decimal.Decimal, error) {
	switch {
	case token.Pricing == entities.PricingCustom:
		if !token.CustomRate.IsPositive() {
			return decimal.Zero, domainerrors.MissingSettingError("custom rate", map[string]interface{}{"token": token.Symbol})
		}
		return token.CustomRate, nil
	case token.IsUSDDenominated():
		return decimal.NewFromInt(1), nil
	}

	if r.oracle == nil {
		return decimal.Zero, domainerrors.MissingSettingError("price oracle", map[string]interface{}{"token": token.Symbol})
	}
	quote, err := r.oracle.GetCurrentPrice(ctx, token.PricePair)
	if err != nil {
		if domainerrors.KindOf(err) == domainerrors.KindTransient {
			return decimal.Zero, err
		}
		return decimal.Zero, domainerrors.TransientError("price oracle", err)
	}
	if quote == nil || !quote.Price.IsPositive() {
		price := decimal.Zero
		if quote != nil {
			price = quote.Price
		}
		return decimal.Zero, domainerrors.InvalidPriceError(token.PricePair, price)
	}
	return quote.Price, nil
}

// Prices resolves the PriceData of a pair
func (r *PriceResolver) Prices(ctx context.Context, from, to entities.Token) (PriceData, error) {
	fromPrice, err := r.PriceUSD(ctx, from)
	if err != nil {
		return PriceData{}, err
	}
	toPrice, err := r.PriceUSD(ctx, to)
	if err != nil {
		return PriceData{}, err
	}
	return PriceData{From: fromPrice, To: toPrice}, nil
}
