// Package pricing computes fees, commissions and cross-token conversions.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
)

// divisionPrecision bounds intermediate divisions before final rounding
const divisionPrecision int32 = 18

var hundred = decimal.NewFromInt(100)

// ComputeCharge converts a configured rate into token units.
//
//	FIXED:      rateValue / tokenPriceUSD
//	PERCENTAGE: (rateValue / tokenPriceUSD) * amount / 100
//
// A FIXED charge larger than the amount itself is rejected.
func ComputeCharge(amount, rateValue decimal.Decimal, rateType entities.ChargeType, tokenPriceUSD decimal.Decimal) (decimal.Decimal, error) {
	if !tokenPriceUSD.IsPositive() {
		return decimal.Zero, domainerrors.InvalidPriceError("charge", tokenPriceUSD)
	}
	if rateValue.IsNegative() {
		return decimal.Zero, domainerrors.ValidationError("rate", "charge rate cannot be negative")
	}

	perUnit := rateValue.DivRound(tokenPriceUSD, divisionPrecision)
	switch rateType {
	case entities.ChargeFixed:
		if perUnit.GreaterThan(amount) {
			return decimal.Zero, domainerrors.AmountTooLowForChargeError(amount, perUnit)
		}
		return perUnit, nil
	case entities.ChargePercentage:
		return perUnit.Mul(amount).DivRound(hundred, divisionPrecision), nil
	default:
		return decimal.Zero, domainerrors.MissingSettingError("charge type", map[string]interface{}{
			"type": string(rateType),
		})
	}
}

// ChargeWithFloor applies a rule and its optional fixed floor, returning
// max(rule charge, floor). A floor above the amount is rejected.
func ChargeWithFloor(amount decimal.Decimal, rule entities.ChargeRule, tokenPriceUSD decimal.Decimal) (decimal.Decimal, error) {
	if rule.IsZero() {
		return decimal.Zero, nil
	}

	charge := decimal.Zero
	if !rule.Value.IsZero() {
		computed, err := ComputeCharge(amount, rule.Value, rule.Type, tokenPriceUSD)
		if err != nil {
			return decimal.Zero, err
		}
		charge = computed
	}

	if rule.FixedFloorUSD.IsPositive() {
		floor, err := ComputeCharge(amount, rule.FixedFloorUSD, entities.ChargeFixed, tokenPriceUSD)
		if err != nil {
			return decimal.Zero, err
		}
		charge = decimal.Max(charge, floor)
	}

	if charge.GreaterThan(amount) {
		return decimal.Zero, domainerrors.AmountTooLowForChargeError(amount, charge)
	}
	return charge, nil
}

// Charges is the fee breakdown of one outgoing amount
type Charges struct {
	Fee        decimal.Decimal `json:"fee"`
	Commission decimal.Decimal `json:"commission"`
	// Net is amount − fee − commission.
	Net decimal.Decimal `json:"net"`
}

// ComputeCharges applies the fee and commission rules to amount. The result
// must leave a positive net amount.
func ComputeCharges(amount decimal.Decimal, fee, commission entities.ChargeRule, tokenPriceUSD decimal.Decimal, precision int32) (*Charges, error) {
	feeAmount, err := ChargeWithFloor(amount, fee, tokenPriceUSD)
	if err != nil {
		return nil, err
	}
	commissionAmount, err := ChargeWithFloor(amount, commission, tokenPriceUSD)
	if err != nil {
		return nil, err
	}

	feeAmount = feeAmount.Round(precision)
	commissionAmount = commissionAmount.Round(precision)
	net := amount.Sub(feeAmount).Sub(commissionAmount)
	if !net.IsPositive() {
		return nil, domainerrors.AmountTooLowForChargeError(amount, feeAmount.Add(commissionAmount))
	}

	return &Charges{Fee: feeAmount, Commission: commissionAmount, Net: net}, nil
}
