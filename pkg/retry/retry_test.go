package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestBackoff_Calculate(t *testing.T) {
	b := NewBackoff(Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2})

	assert.Equal(t, time.Duration(0), b.Calculate(0))
	assert.Equal(t, 100*time.Millisecond, b.Calculate(1))
	assert.Equal(t, 200*time.Millisecond, b.Calculate(2))
	assert.Equal(t, 400*time.Millisecond, b.Calculate(3))
	assert.Equal(t, time.Second, b.Calculate(10), "capped at max delay")
}

func TestBackoff_JitterStaysInRange(t *testing.T) {
	b := NewBackoff(Policy{InitialDelay: 100 * time.Millisecond, Multiplier: 1, Jitter: 0.5})
	for i := 0; i < 50; i++ {
		d := b.Calculate(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	bad := []Policy{
		{MaxRetries: -1, Multiplier: 1},
		{InitialDelay: -time.Second, Multiplier: 1},
		{Multiplier: 0.5},
		{Multiplier: 1, Jitter: 2},
	}
	for _, p := range bad {
		_, err := NewRetrier(p, zap.NewNop())
		assert.Error(t, err)
	}
}

func TestRetrier_SucceedsAfterFailures(t *testing.T) {
	r, err := NewRetrier(fastPolicy(3), zap.NewNop())
	require.NoError(t, err)

	calls := 0
	err = r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrier_GivesUp(t *testing.T) {
	r, err := NewRetrier(fastPolicy(2), zap.NewNop())
	require.NoError(t, err)

	boom := errors.New("boom")
	calls := 0
	err = r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetrier_StopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	policy := fastPolicy(5)
	policy.RetryableFunc = func(err error) bool { return !errors.Is(err, permanent) }

	r, err := NewRetrier(policy, zap.NewNop())
	require.NoError(t, err)

	calls := 0
	err = r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return permanent
	})
	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestRetrier_HonoursContext(t *testing.T) {
	r, err := NewRetrier(fastPolicy(5), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err = r.Do(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)

	calls = 0
	err = r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return context.DeadlineExceeded
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}
