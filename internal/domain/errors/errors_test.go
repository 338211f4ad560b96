package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"validation", InsufficientBalanceError(decimal.Zero, decimal.NewFromInt(1)), KindValidation},
		{"configuration", MissingSettingError("withdraw", nil), KindConfiguration},
		{"transient price", InvalidPriceError("BTCUSDT", decimal.Zero), KindTransient},
		{"post commit", PostCommitError("WD000001", errors.New("gateway down")), KindPostCommit},
		{"idempotency", AlreadySettledError("WD000001", "completed"), KindIdempotency},
		{"conflict", InvalidTransitionError("WD000001", "completed", "pending"), KindConflict},
		{"wrapped", fmt.Errorf("withdraw: %w", UnknownTokenError("XYZ")), KindValidation},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"bare sentinel", fmt.Errorf("lookup: %w", ErrNotFound), KindNotFound},
		{"unknown", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestDomainError_MatchesSentinelAndCategory(t *testing.T) {
	err := fmt.Errorf("settle: %w", DuplicateExternalHashError("0xabc"))
	assert.ErrorIs(t, err, ErrDuplicateExternalHash)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.False(t, IsConflict(err))
	assert.Equal(t, "DUPLICATE_EXTERNAL_HASH", GetErrorCode(err))
	assert.Equal(t, "0xabc", GetErrorDetails(err)["external_hash"])

	assert.True(t, IsInsufficientBalance(InsufficientBalanceError(decimal.Zero, decimal.NewFromInt(3))))
	assert.True(t, IsAmountTooLowForCharge(AmountTooLowForChargeError(decimal.NewFromInt(1), decimal.NewFromInt(2))))
	assert.True(t, IsAlreadySettled(AlreadySettledError("WD000001", "completed")))
	assert.True(t, IsIdempotent(AlreadySettledError("WD000001", "completed")))
	assert.True(t, IsConfiguration(MissingSettingError("swap", map[string]interface{}{"from": "USDT"})))
	assert.True(t, IsServiceUnavailable(TransientError("oracle", nil)))
	assert.Equal(t, "UNKNOWN_ERROR", GetErrorCode(errors.New("plain")))
}

func TestPostCommitError_KeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := PostCommitError("WD000009", cause)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrPayoutFailed)
	assert.ErrorIs(t, err, ErrPostCommit)
	assert.Equal(t, "WD000009", err.Details["request_id"])
}

func TestInvalidPairError_DefaultsSentinel(t *testing.T) {
	assert.ErrorIs(t, InvalidPairError(nil, "USDT", "BTC"), ErrInvalidTokenPair)
	assert.ErrorIs(t, InvalidPairError(ErrUnsupportedConversion, "USDT", "DOGE"), ErrUnsupportedConversion)
}

func TestRetryable(t *testing.T) {
	assert.True(t, TransientError("payout gateway", errors.New("timeout")).IsRetryable())
	assert.True(t, NewDomainError(KindTransient, nil, "X", "x").IsRetryable())
	assert.False(t, ValidationError("amount", "bad").IsRetryable())
	assert.True(t, ValidationError("amount", "bad").WithRetryable(true).IsRetryable())
}
