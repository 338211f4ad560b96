package settings

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
)

func testTokens() []entities.Token {
	return []entities.Token{
		{Symbol: "USDT", Pricing: entities.PricingDynamic, ValueType: "USD"},
		{Symbol: "btc", Pricing: entities.PricingDynamic, ValueType: "BTC", PricePair: "BTCUSDT", Networks: []string{"BTC"}},
		{Symbol: "PNT", Pricing: entities.PricingCustom, ValueType: "PNT", CustomRate: decimal.RequireFromString("0.01")},
		{Symbol: "DUE", Pricing: entities.PricingDynamic, ValueType: "USD"},
	}
}

func TestNewCatalog_Lookups(t *testing.T) {
	fee := entities.ChargeRule{Type: entities.ChargeFixed, Value: decimal.NewFromInt(1)}
	catalog, err := NewCatalog(
		testTokens(),
		[]entities.WithdrawSettings{{Token: "usdt", Platform: "OnChain", Fee: fee}},
		[]entities.DepositSettings{{Token: "BTC", MinAmount: decimal.RequireFromString("0.0001")}},
		[]entities.SwapSettings{{From: "USDT", To: "BTC"}},
		"due",
	)
	require.NoError(t, err)

	token, err := catalog.Token(" btc ")
	require.NoError(t, err)
	assert.Equal(t, "BTC", token.Symbol)

	w, err := catalog.Withdraw("USDT", "onchain")
	require.NoError(t, err)
	assert.True(t, w.Fee.Value.Equal(decimal.NewFromInt(1)))

	_, err = catalog.Deposit("btc")
	require.NoError(t, err)

	_, err = catalog.Swap("USDT", "BTC")
	require.NoError(t, err)

	due, err := catalog.DueToken()
	require.NoError(t, err)
	assert.Equal(t, "DUE", due.Symbol)
	assert.Len(t, catalog.Tokens(), 4)
}

func TestCatalog_MissingRulesAreConfigurationErrors(t *testing.T) {
	catalog, err := NewCatalog(testTokens(), nil, nil, nil, "")
	require.NoError(t, err)

	_, err = catalog.Withdraw("USDT", "onchain")
	assert.True(t, errors.Is(err, domainerrors.ErrMissingSetting))
	assert.Equal(t, domainerrors.KindConfiguration, domainerrors.KindOf(err))

	_, err = catalog.Deposit("USDT")
	assert.True(t, errors.Is(err, domainerrors.ErrMissingSetting))

	// swap rules are directional
	_, err = catalog.Swap("BTC", "USDT")
	assert.True(t, errors.Is(err, domainerrors.ErrMissingSetting))

	_, err = catalog.DueToken()
	assert.True(t, errors.Is(err, domainerrors.ErrMissingSetting))

	_, err = catalog.Token("DOGE")
	assert.True(t, errors.Is(err, domainerrors.ErrUnknownToken))
}

func TestNewCatalog_RejectsInvalidRules(t *testing.T) {
	tests := []struct {
		name     string
		tokens   []entities.Token
		withdraw []entities.WithdrawSettings
		swap     []entities.SwapSettings
		dueToken string
	}{
		{
			name:   "custom token without rate",
			tokens: []entities.Token{{Symbol: "PNT", Pricing: entities.PricingCustom, ValueType: "PNT"}},
		},
		{
			name:   "dynamic asset without pair",
			tokens: []entities.Token{{Symbol: "BTC", Pricing: entities.PricingDynamic, ValueType: "BTC"}},
		},
		{
			name:   "duplicate token",
			tokens: append(testTokens(), entities.Token{Symbol: "usdt", Pricing: entities.PricingDynamic, ValueType: "USD"}),
		},
		{
			name:     "withdraw for unknown token",
			tokens:   testTokens(),
			withdraw: []entities.WithdrawSettings{{Token: "DOGE", Platform: "onchain"}},
		},
		{
			name:     "withdraw without platform",
			tokens:   testTokens(),
			withdraw: []entities.WithdrawSettings{{Token: "USDT"}},
		},
		{
			name:   "negative commission",
			tokens: testTokens(),
			swap: []entities.SwapSettings{{From: "USDT", To: "BTC", Commission: entities.ChargeRule{
				Type: entities.ChargePercentage, Value: decimal.NewFromInt(-1),
			}}},
		},
		{
			name:     "due token not usd",
			tokens:   testTokens(),
			dueToken: "BTC",
		},
		{
			name:     "due token is withdrawable",
			tokens:   testTokens(),
			withdraw: []entities.WithdrawSettings{{Token: "USDT", Platform: "onchain"}},
			dueToken: "USDT",
		},
		{
			name:     "due token unknown",
			tokens:   testTokens(),
			dueToken: "USDC",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.tokens, tt.withdraw, nil, tt.swap, tt.dueToken)
			assert.Error(t, err)
		})
	}
}
