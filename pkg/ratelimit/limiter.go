package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultKeyPrefix = "wallet_ledger"

// Window is an allowance of Limit requests per sliding Window
type Window struct {
	Limit  int64
	Window time.Duration
}

func (w Window) enabled() bool {
	return w.Limit > 0 && w.Window > 0
}

// Config defines the per-user movement allowances
type Config struct {
	KeyPrefix string
	// User caps every movement request of one user.
	User Window
	// Endpoints caps a single movement kind per user, keyed by endpoint name.
	Endpoints map[string]Window
}

// Result is the outcome of a limit check
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
	LimitedBy  string
}

// SlidingWindowLimiter counts requests in Redis sorted sets so every
// replica of the service shares the same windows.
type SlidingWindowLimiter struct {
	redis  redis.Cmdable
	config Config
	logger *zap.Logger
}

// NewSlidingWindowLimiter creates a limiter backed by client
func NewSlidingWindowLimiter(client redis.Cmdable, config Config, logger *zap.Logger) *SlidingWindowLimiter {
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaultKeyPrefix
	}
	return &SlidingWindowLimiter{redis: client, config: config, logger: logger}
}

// Check records one request of userID against endpoint and reports whether
// it fits both the user tier and the endpoint tier.
func (l *SlidingWindowLimiter) Check(ctx context.Context, userID, endpoint string) (*Result, error) {
	if l.config.User.enabled() {
		allowed, remaining, err := l.checkWindow(ctx, "user:"+userID, l.config.User)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return &Result{Allowed: false, Remaining: remaining, RetryAfter: l.config.User.Window, LimitedBy: "user"}, nil
		}
	}

	if w, ok := l.config.Endpoints[endpoint]; ok && w.enabled() {
		allowed, remaining, err := l.checkWindow(ctx, "endpoint:"+endpoint+":"+userID, w)
		if err != nil {
			return nil, err
		}
		if !allowed {
			l.logger.Debug("Endpoint allowance exhausted",
				zap.String("endpoint", endpoint),
				zap.String("user_id", userID))
			return &Result{Allowed: false, Remaining: remaining, RetryAfter: w.Window, LimitedBy: "endpoint"}, nil
		}
	}

	return &Result{Allowed: true, Remaining: -1}, nil
}

func (l *SlidingWindowLimiter) checkWindow(ctx context.Context, key string, w Window) (bool, int64, error) {
	redisKey := fmt.Sprintf("%s:ratelimit:%s", l.config.KeyPrefix, key)
	now := time.Now()
	windowStart := strconv.FormatInt(now.Add(-w.Window).UnixNano(), 10)

	pipe := l.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", windowStart)
	countCmd := pipe.ZCount(ctx, redisKey, windowStart, "+inf")
	pipe.ZAdd(ctx, redisKey, &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString(),
	})
	pipe.Expire(ctx, redisKey, w.Window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := countCmd.Val()
	remaining := w.Limit - count - 1
	if remaining < 0 {
		remaining = 0
	}
	return count < w.Limit, remaining, nil
}

// AttemptConfig tunes the failed-attempt lockout
type AttemptConfig struct {
	KeyPrefix   string
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultAttemptConfig locks after five bad codes, starting at thirty seconds
func DefaultAttemptConfig() AttemptConfig {
	return AttemptConfig{
		KeyPrefix:   defaultKeyPrefix,
		MaxAttempts: 5,
		BaseBackoff: 30 * time.Second,
		MaxBackoff:  time.Hour,
	}
}

// AttemptResult describes the lock state of an identifier
type AttemptResult struct {
	Allowed        bool
	FailedAttempts int
	RetryAfter     time.Duration
}

// AttemptTracker counts failed one-time-code attempts per admin and locks
// the admin out with exponential backoff once MaxAttempts is reached.
type AttemptTracker struct {
	redis  redis.Cmdable
	config AttemptConfig
	logger *zap.Logger
}

// NewAttemptTracker creates a tracker backed by client
func NewAttemptTracker(client redis.Cmdable, config AttemptConfig, logger *zap.Logger) *AttemptTracker {
	defaults := DefaultAttemptConfig()
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = defaults.BaseBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	return &AttemptTracker{redis: client, config: config, logger: logger}
}

func (t *AttemptTracker) keys(identifier string) (string, string) {
	return t.config.KeyPrefix + ":otp:attempts:" + identifier, t.config.KeyPrefix + ":otp:locked:" + identifier
}

// Allowed reports whether identifier may try another code
func (t *AttemptTracker) Allowed(ctx context.Context, identifier string) (*AttemptResult, error) {
	attemptsKey, lockKey := t.keys(identifier)

	lockTTL, err := t.redis.TTL(ctx, lockKey).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to check lock status: %w", err)
	}
	if lockTTL > 0 {
		return &AttemptResult{Allowed: false, RetryAfter: lockTTL}, nil
	}

	attempts, err := t.redis.Get(ctx, attemptsKey).Int()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to get attempts: %w", err)
	}
	return &AttemptResult{Allowed: true, FailedAttempts: attempts}, nil
}

// RecordFailure counts a bad code and applies the lockout when due
func (t *AttemptTracker) RecordFailure(ctx context.Context, identifier string) (*AttemptResult, error) {
	attemptsKey, lockKey := t.keys(identifier)

	attempts, err := t.redis.Incr(ctx, attemptsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to increment attempts: %w", err)
	}
	if err := t.redis.Expire(ctx, attemptsKey, time.Hour).Err(); err != nil {
		return nil, fmt.Errorf("failed to expire attempts: %w", err)
	}

	result := &AttemptResult{Allowed: true, FailedAttempts: int(attempts)}
	backoff := LockoutFor(int(attempts), t.config)
	if backoff == 0 {
		return result, nil
	}

	if err := t.redis.Set(ctx, lockKey, "1", backoff).Err(); err != nil {
		return nil, fmt.Errorf("failed to set lock: %w", err)
	}
	result.Allowed = false
	result.RetryAfter = backoff

	t.logger.Warn("Admin one-time code locked",
		zap.String("identifier", identifier),
		zap.Int64("attempts", attempts),
		zap.Duration("lockout", backoff))
	return result, nil
}

// RecordSuccess clears the failure count
func (t *AttemptTracker) RecordSuccess(ctx context.Context, identifier string) error {
	attemptsKey, lockKey := t.keys(identifier)
	pipe := t.redis.Pipeline()
	pipe.Del(ctx, attemptsKey)
	pipe.Del(ctx, lockKey)
	_, err := pipe.Exec(ctx)
	return err
}

// LockoutFor returns how long an identifier is locked after attempts
// failures, or zero while it is still under the threshold.
func LockoutFor(attempts int, config AttemptConfig) time.Duration {
	if config.MaxAttempts <= 0 || attempts < config.MaxAttempts {
		return 0
	}
	exponent := attempts - config.MaxAttempts
	backoff := time.Duration(float64(config.BaseBackoff) * math.Pow(2, float64(exponent)))
	if backoff > config.MaxBackoff || backoff <= 0 {
		backoff = config.MaxBackoff
	}
	return backoff
}
