package pricing

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
)

// ConversionRule names the branch of the conversion table that was applied
type ConversionRule string

const (
	RuleCustomSameValue   ConversionRule = "custom_custom_same_value"
	RuleCustomCrossRate   ConversionRule = "custom_custom_cross_rate"
	RuleCustomToDynamic   ConversionRule = "custom_to_dynamic"
	RuleDynamicToCustom   ConversionRule = "dynamic_to_custom"
	RuleDynamicSameValue  ConversionRule = "dynamic_dynamic_same_value"
	RuleDynamicUSDToAsset ConversionRule = "dynamic_usd_to_asset"
	RuleDynamicAssetToUSD ConversionRule = "dynamic_asset_to_usd"
	RuleOverrideRate      ConversionRule = "override_rate"
)

// PriceData holds the USD price of one unit of each token's value asset.
// USD-denominated tokens use 1; custom tokens use their CustomRate.
type PriceData struct {
	From decimal.Decimal `json:"from"`
	To   decimal.Decimal `json:"to"`
}

// Override is an explicit pair rate. It always applies to dynamic/dynamic
// pairs and to custom/dynamic pairs only when AppliesToCustom is set.
type Override struct {
	Rate            decimal.Decimal
	AppliesToCustom bool
}

// OverrideFromSettings extracts the override of a swap pair
func OverrideFromSettings(settings *entities.SwapSettings) Override {
	if settings == nil || !settings.HasOverride() {
		return Override{}
	}
	return Override{Rate: settings.OverrideRate, AppliesToCustom: settings.OverrideAppliesToCustom}
}

// Conversion is the result of converting an amount between two tokens
type Conversion struct {
	Amount decimal.Decimal `json:"amount"`
	Rule   ConversionRule  `json:"rule"`
}

// Converter turns units of one token into units of another
type Converter struct {
	precision int32
}

// NewConverter creates a converter rounding results to precision digits
func NewConverter(precision int32) *Converter {
	return &Converter{precision: precision}
}

// Convert applies the conversion table:
//
//	custom  -> custom,  same value type:  amount
//	custom  -> custom,  other value type: amount * fromRate / toRate
//	custom  -> dynamic:                   amount * fromRate, then / price unless to is USD
//	dynamic -> custom:                    amount * price, then / toRate
//	dynamic -> dynamic, same value type:  amount
//	dynamic -> dynamic, USD -> asset:     amount / price
//	dynamic -> dynamic, asset -> USD:     amount * price
//	dynamic -> dynamic, override set:     amount * override
func (c *Converter) Convert(from, to entities.Token, amount decimal.Decimal, prices PriceData, override Override) (*Conversion, error) {
	if amount.IsNegative() {
		return nil, domainerrors.InvalidAmountError(amount)
	}

	fromCustom := from.Pricing == entities.PricingCustom
	toCustom := to.Pricing == entities.PricingCustom

	if override.Rate.IsPositive() {
		bothDynamic := !fromCustom && !toCustom
		mixed := fromCustom != toCustom
		if bothDynamic || (mixed && override.AppliesToCustom) {
			return c.result(amount.Mul(override.Rate), RuleOverrideRate), nil
		}
	}

	switch {
	case fromCustom && toCustom:
		if sameValueType(from, to) {
			return c.result(amount, RuleCustomSameValue), nil
		}
		if err := requirePositive(from.Symbol, from.CustomRate); err != nil {
			return nil, err
		}
		if err := requirePositive(to.Symbol, to.CustomRate); err != nil {
			return nil, err
		}
		return c.result(amount.Mul(from.CustomRate).DivRound(to.CustomRate, divisionPrecision), RuleCustomCrossRate), nil

	case fromCustom && !toCustom:
		if err := requirePositive(from.Symbol, from.CustomRate); err != nil {
			return nil, err
		}
		usd := amount.Mul(from.CustomRate)
		if to.IsUSDDenominated() {
			return c.result(usd, RuleCustomToDynamic), nil
		}
		if err := requirePositive(to.Symbol, prices.To); err != nil {
			return nil, err
		}
		return c.result(usd.DivRound(prices.To, divisionPrecision), RuleCustomToDynamic), nil

	case !fromCustom && toCustom:
		if err := requirePositive(to.Symbol, to.CustomRate); err != nil {
			return nil, err
		}
		usd := amount
		if !from.IsUSDDenominated() {
			if err := requirePositive(from.Symbol, prices.From); err != nil {
				return nil, err
			}
			usd = amount.Mul(prices.From)
		}
		return c.result(usd.DivRound(to.CustomRate, divisionPrecision), RuleDynamicToCustom), nil

	default:
		switch {
		case sameValueType(from, to):
			return c.result(amount, RuleDynamicSameValue), nil
		case from.IsUSDDenominated() && !to.IsUSDDenominated():
			if err := requirePositive(to.Symbol, prices.To); err != nil {
				return nil, err
			}
			return c.result(amount.DivRound(prices.To, divisionPrecision), RuleDynamicUSDToAsset), nil
		case !from.IsUSDDenominated() && to.IsUSDDenominated():
			if err := requirePositive(from.Symbol, prices.From); err != nil {
				return nil, err
			}
			return c.result(amount.Mul(prices.From), RuleDynamicAssetToUSD), nil
		default:
			return nil, domainerrors.InvalidPairError(domainerrors.ErrUnsupportedConversion, from.Symbol, to.Symbol)
		}
	}
}

func (c *Converter) result(amount decimal.Decimal, rule ConversionRule) *Conversion {
	return &Conversion{Amount: amount.Round(c.precision), Rule: rule}
}

func sameValueType(from, to entities.Token) bool {
	return strings.EqualFold(from.ValueType, to.ValueType)
}

func requirePositive(symbol string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return domainerrors.InvalidPriceError(symbol, price)
	}
	return nil
}
