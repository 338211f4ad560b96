package entities

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// USDValueType marks tokens whose unit is worth one US dollar
const USDValueType = "USD"

// PricingModel decides where a token's USD value comes from
type PricingModel string

const (
	// PricingCustom tokens use a fixed admin-set USD rate
	PricingCustom PricingModel = "custom"
	// PricingDynamic tokens are priced from a live market feed
	PricingDynamic PricingModel = "dynamic"
)

// Validate checks if the pricing model is valid
func (p PricingModel) Validate() error {
	switch p {
	case PricingCustom, PricingDynamic:
		return nil
	default:
		return fmt.Errorf("invalid pricing model: %s", p)
	}
}

// Token describes how one token is valued
type Token struct {
	Symbol  string       `json:"symbol"`
	Pricing PricingModel `json:"pricing"`
	// ValueType is the asset a unit is denominated in, e.g. USD or BTC.
	ValueType string `json:"value_type"`
	// CustomRate is the USD value of one unit of a custom token.
	CustomRate decimal.Decimal `json:"custom_rate"`
	// PricePair is the oracle pair for dynamic tokens not denominated in USD.
	PricePair string   `json:"price_pair,omitempty"`
	Networks  []string `json:"networks,omitempty"`
}

// IsUSDDenominated reports whether one unit is worth one USD by definition
func (t Token) IsUSDDenominated() bool {
	return strings.EqualFold(t.ValueType, USDValueType)
}

// SupportsNetwork reports whether withdrawals may use the network
func (t Token) SupportsNetwork(network string) bool {
	if len(t.Networks) == 0 {
		return true
	}
	for _, n := range t.Networks {
		if strings.EqualFold(n, network) {
			return true
		}
	}
	return false
}

// Validate checks a token definition
func (t Token) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("token symbol is required")
	}
	if err := t.Pricing.Validate(); err != nil {
		return fmt.Errorf("token %s: %w", t.Symbol, err)
	}
	if t.ValueType == "" {
		return fmt.Errorf("token %s: value_type is required", t.Symbol)
	}
	if t.Pricing == PricingCustom && !t.CustomRate.IsPositive() {
		return fmt.Errorf("token %s: custom tokens need a positive custom_rate", t.Symbol)
	}
	if t.Pricing == PricingDynamic && !t.IsUSDDenominated() && t.PricePair == "" {
		return fmt.Errorf("token %s: dynamic tokens need a price_pair", t.Symbol)
	}
	return nil
}

// ChargeType selects how a fee or commission is computed
type ChargeType string

const (
	ChargeFixed      ChargeType = "FIXED"
	ChargePercentage ChargeType = "PERCENTAGE"
)

// Validate checks if the charge type is valid
func (c ChargeType) Validate() error {
	switch c {
	case ChargeFixed, ChargePercentage:
		return nil
	default:
		return fmt.Errorf("invalid charge type: %s", c)
	}
}

// ChargeRule configures one fee or commission. Value is USD for FIXED and a
// percent for PERCENTAGE. FixedFloorUSD, when set, is a minimum charge.
type ChargeRule struct {
	Type          ChargeType      `json:"type"`
	Value         decimal.Decimal `json:"value"`
	FixedFloorUSD decimal.Decimal `json:"fixed_floor_usd"`
}

// IsZero reports whether the rule charges nothing
func (c ChargeRule) IsZero() bool {
	return c.Value.IsZero() && c.FixedFloorUSD.IsZero()
}

// WithdrawSettings are the per (token, platform) withdrawal rules
type WithdrawSettings struct {
	Token     string          `json:"token"`
	Platform  string          `json:"platform"`
	MinAmount decimal.Decimal `json:"min_amount"`
	// MaxAmount of zero means unbounded.
	MaxAmount               decimal.Decimal `json:"max_amount"`
	Fee                     ChargeRule      `json:"fee"`
	Commission              ChargeRule      `json:"commission"`
	AdminReviewThresholdUSD decimal.Decimal `json:"admin_review_threshold_usd"`
}

// DepositSettings are the per token deposit rules
type DepositSettings struct {
	Token     string          `json:"token"`
	MinAmount decimal.Decimal `json:"min_amount"`
}

// SwapSettings are the per ordered pair swap rules
type SwapSettings struct {
	From       string          `json:"from"`
	To         string          `json:"to"`
	MinAmount  decimal.Decimal `json:"min_amount"`
	MaxAmount  decimal.Decimal `json:"max_amount"`
	Commission ChargeRule      `json:"commission"`
	// OverrideRate of zero means none is configured.
	OverrideRate decimal.Decimal `json:"override_rate"`
	// OverrideAppliesToCustom extends OverrideRate to custom/dynamic pairs.
	OverrideAppliesToCustom bool `json:"override_applies_to_custom"`
}

// HasOverride reports whether an explicit rate is configured
func (s SwapSettings) HasOverride() bool {
	return s.OverrideRate.IsPositive()
}

// PriceQuote is one oracle reading
type PriceQuote struct {
	Pair      string          `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	High      decimal.Decimal `json:"high"`
	FetchedAt time.Time       `json:"fetched_at"`
}
