package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "want %s, got %s", want, got)
}

var (
	usdt = entities.Token{Symbol: "USDT", Pricing: entities.PricingDynamic, ValueType: "USD"}
	usdc = entities.Token{Symbol: "USDC", Pricing: entities.PricingDynamic, ValueType: "USD"}
	btc  = entities.Token{Symbol: "BTC", Pricing: entities.PricingDynamic, ValueType: "BTC", PricePair: "BTCUSDT"}
	eth  = entities.Token{Symbol: "ETH", Pricing: entities.PricingDynamic, ValueType: "ETH", PricePair: "ETHUSDT"}
	pnt  = entities.Token{Symbol: "PNT", Pricing: entities.PricingCustom, ValueType: "PNT", CustomRate: decimal.RequireFromString("0.01")}
	gem  = entities.Token{Symbol: "GEM", Pricing: entities.PricingCustom, ValueType: "GEM", CustomRate: decimal.RequireFromString("0.05")}
	cpn  = entities.Token{Symbol: "CPN", Pricing: entities.PricingCustom, ValueType: "PNT", CustomRate: decimal.RequireFromString("0.02")}
)

func TestComputeCharge(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		rate     string
		rateType entities.ChargeType
		price    string
		want     string
	}{
		{"fixed usd on usd token", "40", "1", entities.ChargeFixed, "1", "1"},
		{"fixed usd on priced token", "1", "10", entities.ChargeFixed, "50000", "0.0002"},
		{"percentage on usd token", "200", "0.5", entities.ChargePercentage, "1", "1"},
		{"percentage scaled by price", "200", "0.5", entities.ChargePercentage, "2", "0.5"},
		{"zero rate", "100", "0", entities.ChargePercentage, "1", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeCharge(d(tt.amount), d(tt.rate), tt.rateType, d(tt.price))
			require.NoError(t, err)
			assertDecimal(t, tt.want, got)
		})
	}
}

func TestComputeCharge_Errors(t *testing.T) {
	_, err := ComputeCharge(d("0.5"), d("1"), entities.ChargeFixed, d("1"))
	assert.True(t, errors.Is(err, domainerrors.ErrAmountTooLowForCharge))

	_, err = ComputeCharge(d("10"), d("1"), entities.ChargeFixed, decimal.Zero)
	assert.True(t, errors.Is(err, domainerrors.ErrInvalidPrice))

	_, err = ComputeCharge(d("10"), d("-1"), entities.ChargePercentage, d("1"))
	assert.Equal(t, domainerrors.KindValidation, domainerrors.KindOf(err))

	_, err = ComputeCharge(d("10"), d("1"), entities.ChargeType("TIERED"), d("1"))
	assert.Equal(t, domainerrors.KindConfiguration, domainerrors.KindOf(err))
}

func TestChargeWithFloor(t *testing.T) {
	rule := entities.ChargeRule{Type: entities.ChargePercentage, Value: d("0.1"), FixedFloorUSD: d("2")}

	// 0.1% of 10 is 0.01, the floor of 2 USD wins
	got, err := ChargeWithFloor(d("10"), rule, d("1"))
	require.NoError(t, err)
	assertDecimal(t, "2", got)

	// 0.1% of 5000 is 5, above the floor
	got, err = ChargeWithFloor(d("5000"), rule, d("1"))
	require.NoError(t, err)
	assertDecimal(t, "5", got)

	got, err = ChargeWithFloor(d("10"), entities.ChargeRule{}, d("1"))
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = ChargeWithFloor(d("1"), rule, d("1"))
	assert.True(t, domainerrors.IsAmountTooLowForCharge(err))
}

func TestComputeCharges(t *testing.T) {
	fee := entities.ChargeRule{Type: entities.ChargeFixed, Value: d("1")}
	commission := entities.ChargeRule{Type: entities.ChargePercentage, Value: d("1")}

	charges, err := ComputeCharges(d("40"), fee, entities.ChargeRule{}, d("1"), 10)
	require.NoError(t, err)
	assertDecimal(t, "1", charges.Fee)
	assertDecimal(t, "0", charges.Commission)
	assertDecimal(t, "39", charges.Net)

	charges, err = ComputeCharges(d("100"), fee, commission, d("1"), 10)
	require.NoError(t, err)
	assertDecimal(t, "1", charges.Commission)
	assertDecimal(t, "98", charges.Net)

	_, err = ComputeCharges(d("1"), fee, entities.ChargeRule{}, d("1"), 10)
	assert.True(t, domainerrors.IsAmountTooLowForCharge(err), "a charge consuming the whole amount leaves nothing to pay")
}

func TestConverter_Table(t *testing.T) {
	c := NewConverter(10)
	prices := func(from, to string) PriceData { return PriceData{From: d(from), To: d(to)} }

	tests := []struct {
		name     string
		from, to entities.Token
		amount   string
		prices   PriceData
		override Override
		want     string
		rule     ConversionRule
	}{
		{"custom same value type", pnt, cpn, "100", prices("0.01", "0.02"), Override{}, "100", RuleCustomSameValue},
		{"custom cross rate", pnt, gem, "100", prices("0.01", "0.05"), Override{}, "20", RuleCustomCrossRate},
		{"custom to usd", pnt, usdt, "100", prices("0.01", "1"), Override{}, "1", RuleCustomToDynamic},
		{"custom to asset", pnt, btc, "1000", prices("0.01", "50000"), Override{}, "0.0002", RuleCustomToDynamic},
		{"asset to custom", btc, pnt, "0.001", prices("50000", "0.01"), Override{}, "5000", RuleDynamicToCustom},
		{"usd to custom", usdt, pnt, "1", prices("1", "0.01"), Override{}, "100", RuleDynamicToCustom},
		{"dynamic same value type", usdt, usdc, "12.5", prices("1", "1"), Override{}, "12.5", RuleDynamicSameValue},
		{"usd to asset", usdt, btc, "100", prices("1", "50000"), Override{}, "0.002", RuleDynamicUSDToAsset},
		{"asset to usd", btc, usdt, "0.002", prices("50000", "1"), Override{}, "100", RuleDynamicAssetToUSD},
		{"override on dynamic pair", btc, eth, "2", prices("50000", "2500"), Override{Rate: d("15")}, "30", RuleOverrideRate},
		{"override ignored for custom", pnt, usdt, "100", prices("0.01", "1"), Override{Rate: d("5")}, "1", RuleCustomToDynamic},
		{"override applied to custom", pnt, usdt, "100", prices("0.01", "1"), Override{Rate: d("5"), AppliesToCustom: true}, "500", RuleOverrideRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Convert(tt.from, tt.to, d(tt.amount), tt.prices, tt.override)
			require.NoError(t, err)
			assertDecimal(t, tt.want, got.Amount)
			assert.Equal(t, tt.rule, got.Rule)
		})
	}
}

func TestConverter_RoundTrip(t *testing.T) {
	c := NewConverter(10)
	prices := PriceData{From: d("1"), To: d("50000")}

	out, err := c.Convert(usdt, btc, d("100"), prices, Override{})
	require.NoError(t, err)
	back, err := c.Convert(btc, usdt, out.Amount, PriceData{From: d("50000"), To: d("1")}, Override{})
	require.NoError(t, err)
	assertDecimal(t, "100", back.Amount)
}

func TestConverter_Errors(t *testing.T) {
	c := NewConverter(10)

	_, err := c.Convert(btc, eth, d("1"), PriceData{From: d("50000"), To: d("2500")}, Override{})
	assert.True(t, errors.Is(err, domainerrors.ErrUnsupportedConversion))

	_, err = c.Convert(usdt, btc, d("-1"), PriceData{From: d("1"), To: d("50000")}, Override{})
	assert.True(t, errors.Is(err, domainerrors.ErrInvalidAmount))

	_, err = c.Convert(usdt, btc, d("1"), PriceData{From: d("1"), To: decimal.Zero}, Override{})
	assert.True(t, errors.Is(err, domainerrors.ErrInvalidPrice))
}

type mockOracle struct {
	mock.Mock
}

func (m *mockOracle) GetCurrentPrice(ctx context.Context, pair string) (*entities.PriceQuote, error) {
	args := m.Called(ctx, pair)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.PriceQuote), args.Error(1)
}

func TestPriceResolver(t *testing.T) {
	ctx := context.Background()
	oracle := new(mockOracle)
	oracle.On("GetCurrentPrice", mock.Anything, "BTCUSDT").Return(&entities.PriceQuote{Pair: "BTCUSDT", Price: d("50000")}, nil)
	oracle.On("GetCurrentPrice", mock.Anything, "ETHUSDT").Return(nil, errors.New("feed down"))
	resolver := NewPriceResolver(oracle)

	price, err := resolver.PriceUSD(ctx, usdt)
	require.NoError(t, err)
	assertDecimal(t, "1", price)

	price, err = resolver.PriceUSD(ctx, pnt)
	require.NoError(t, err)
	assertDecimal(t, "0.01", price)

	price, err = resolver.PriceUSD(ctx, btc)
	require.NoError(t, err)
	assertDecimal(t, "50000", price)

	_, err = resolver.PriceUSD(ctx, eth)
	assert.Equal(t, domainerrors.KindTransient, domainerrors.KindOf(err))

	data, err := resolver.Prices(ctx, btc, usdt)
	require.NoError(t, err)
	assertDecimal(t, "50000", data.From)
	assertDecimal(t, "1", data.To)

	_, err = NewPriceResolver(nil).PriceUSD(ctx, btc)
	assert.Equal(t, domainerrors.KindConfiguration, domainerrors.KindOf(err))
}
