package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
	"github.com/rail-service/wallet_ledger/pkg/secrets"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimal = `
storage:
  driver: memory
sequence:
  driver: memory
ledger:
  due_token: DUE
tokens:
  - symbol: DUE
    pricing: dynamic
    value_type: USD
  - symbol: USDT
    pricing: dynamic
    value_type: USD
withdraw_settings:
  - token: USDT
    platform: onchain
    min_amount: "10"
    fee:
      type: fixed
      value: "1"
`

func TestLoadFile_ShippedConfigBuildsCatalog(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := LoadFile(filepath.Join("..", "..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "DUE", cfg.Ledger.DueToken)

	catalog, err := cfg.BuildCatalog()
	require.NoError(t, err)

	due, err := catalog.DueToken()
	require.NoError(t, err)
	assert.Equal(t, "DUE", due.Symbol)

	rule, err := catalog.Withdraw("BTC", "onchain")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(2).Equal(rule.Fee.FixedFloorUSD))
}

func TestLoadFile_DefaultsAndEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9999")

	cfg, err := LoadFile(writeConfig(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, "log", cfg.Notification.Provider)
	assert.Equal(t, 500, cfg.Reconciliation.BatchSize)
	assert.Equal(t, "0 * * * *", cfg.Reconciliation.Schedule)

	tolerance, err := cfg.ReconciliationTolerance()
	require.NoError(t, err)
	assert.True(t, tolerance.IsZero())

	catalog, err := cfg.BuildCatalog()
	require.NoError(t, err)
	rule, err := catalog.Withdraw("usdt", "onchain")
	require.NoError(t, err)
	assert.Equal(t, "FIXED", string(rule.Fee.Type))

	_, err = catalog.Deposit("USDT")
	assert.True(t, domainerrors.IsConfiguration(err), "missing rules are never defaulted")
}

func TestLoadFile_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		body string
	}{
		{"missing jwt secret", nil, minimal},
		{"unknown storage", map[string]string{"JWT_SECRET": "x"}, "storage:\n  driver: sqlite\n"},
		{"postgres sequence on memory storage", map[string]string{"JWT_SECRET": "x"}, "storage:\n  driver: memory\nsequence:\n  driver: postgres\n"},
		{"sendgrid without key", map[string]string{"JWT_SECRET": "x"}, minimal + "notification:\n  provider: sendgrid\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			t.Setenv("SENDGRID_API_KEY", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFile(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestBuildCatalog_RejectsBadDecimals(t *testing.T) {
	cfg := &Config{
		Ledger: LedgerConfig{DueToken: "DUE"},
		Tokens: []TokenConfig{
			{Symbol: "DUE", Pricing: "dynamic", ValueType: "USD"},
			{Symbol: "USDT", Pricing: "dynamic", ValueType: "USD"},
		},
		Withdraw: []WithdrawConfig{{Token: "USDT", Platform: "onchain", MinAmount: "ten"}},
	}
	_, err := cfg.BuildCatalog()
	assert.ErrorContains(t, err, "min_amount")

	cfg.Withdraw[0].MinAmount = "10"
	cfg.Withdraw[0].Fee = ChargeConfig{Type: "FLAT", Value: "1"}
	_, err = cfg.BuildCatalog()
	assert.Error(t, err, "unknown charge type")
}

type mapSecrets map[string]string

func (m mapSecrets) GetSecret(_ context.Context, key string) (string, error) {
	if v, ok := m[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", secrets.ErrSecretNotFound, key)
}

type brokenSecrets struct{}

func (brokenSecrets) GetSecret(context.Context, string) (string, error) {
	return "", errors.New("access denied")
}

func TestResolveSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("PAYOUT_API_KEY", "from-env")

	cfg, err := LoadFile(writeConfig(t, minimal+"secrets:\n  provider: aws\n"))
	require.NoError(t, err, "credentials are checked after resolution")
	assert.Empty(t, cfg.JWT.Secret)

	require.NoError(t, cfg.ResolveSecrets(context.Background(), mapSecrets{
		"JWT_SECRET":        "from-aws",
		"PAYOUT_API_KEY":    "ignored",
		"DATABASE_PASSWORD": "pw",
	}))
	assert.Equal(t, "from-aws", cfg.JWT.Secret)
	assert.Equal(t, "from-env", cfg.Payout.APIKey, "explicit values win")
	assert.Contains(t, cfg.Database.URL, "postgres:pw@")

	cfg, err = LoadFile(writeConfig(t, minimal+"secrets:\n  provider: aws\n"))
	require.NoError(t, err)
	assert.Error(t, cfg.ResolveSecrets(context.Background(), mapSecrets{}), "jwt secret still missing")
	assert.ErrorContains(t, cfg.ResolveSecrets(context.Background(), brokenSecrets{}), "access denied")
}

func TestLoadFile_MovementLimitsAndSNS(t *testing.T) {
	t.Setenv("JWT_SECRET", "x")

	body := minimal + `
movement_limits:
  enabled: true
  endpoints:
    withdraw:
      limit: 5
      window: 3600
notification:
  provider: sns
  sns_topic_arn: arn:aws:sns:eu-west-1:123456789012:movements
`
	cfg, err := LoadFile(writeConfig(t, body))
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.MovementLimits.User.Limit)
	assert.Equal(t, LimitWindow{Limit: 5, Window: 3600}, cfg.MovementLimits.Endpoints["withdraw"])
	assert.Equal(t, "us-east-1", cfg.Notification.AWSRegion)
	assert.Equal(t, 5, cfg.Admin.OTPMaxAttempts)

	_, err = LoadFile(writeConfig(t, minimal+"notification:\n  provider: sns\n"))
	assert.ErrorContains(t, err, "topic arn")

	_, err = LoadFile(writeConfig(t, minimal+"movement_limits:\n  enabled: true\n  endpoints:\n    swap:\n      limit: 0\n      window: 60\n"))
	assert.ErrorContains(t, err, "swap")
}
