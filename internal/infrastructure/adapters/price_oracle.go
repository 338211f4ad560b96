package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
	"github.com/rail-service/wallet_ledger/internal/domain/services/pricing"
	"github.com/rail-service/wallet_ledger/internal/infrastructure/cache"
	"github.com/rail-service/wallet_ledger/pkg/metrics"
	"github.com/rail-service/wallet_ledger/pkg/tracing"
)

const priceCachePrefix = "oracle:price:"

// PriceOracleConfig configures the market price feed client
type PriceOracleConfig struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	CacheTTL  time.Duration
	RateLimit float64
	Burst     int
}

// PriceOracleClient reads current prices from an HTTP feed. Quotes are
// cached briefly in Redis; a miss always goes to the feed and a bad or
// missing price is an error, never a default.
type PriceOracleClient struct {
	config     PriceOracleConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	cache      cache.RedisClient
	logger     *zap.Logger
}

var _ pricing.PriceOracle = (*PriceOracleClient)(nil)

type priceResponse struct {
	Pair      string          `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	High      decimal.Decimal `json:"high"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewPriceOracleClient creates a client; cache may be nil
func NewPriceOracleClient(config PriceOracleConfig, redis cache.RedisClient, logger *zap.Logger) *PriceOracleClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 10
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "PriceOracle",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &PriceOracleClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		breaker:    breaker,
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
		cache:      redis,
		logger:     logger,
	}
}

// GetCurrentPrice returns the current quote for pair, e.g. "BTC/USD"
func (c *PriceOracleClient) GetCurrentPrice(ctx context.Context, pair string) (*entities.PriceQuote, error) {
	ctx, span := tracing.GetTracer("adapters.price_oracle").Start(ctx, "GetCurrentPrice")
	defer span.End()
	span.SetAttributes(attribute.String("pair", pair))

	if quote, ok := c.cached(ctx, pair); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return quote, nil
	}

	start := time.Now()
	quote, err := c.fetch(ctx, pair)
	metrics.OracleLatency.WithLabelValues(pair, "feed").Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if c.cache != nil && c.config.CacheTTL > 0 {
		if err := c.cache.Set(ctx, priceCachePrefix+pair, quote, c.config.CacheTTL); err != nil {
			c.logger.Warn("Failed to cache price", zap.String("pair", pair), zap.Error(err))
		}
	}
	return quote, nil
}

func (c *PriceOracleClient) cached(ctx context.Context, pair string) (*entities.PriceQuote, bool) {
	if c.cache == nil || c.config.CacheTTL <= 0 {
		return nil, false
	}
	start := time.Now()
	var quote entities.PriceQuote
	if err := c.cache.Get(ctx, priceCachePrefix+pair, &quote); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn("Price cache read failed", zap.String("pair", pair), zap.Error(err))
		}
		return nil, false
	}
	if !quote.Price.IsPositive() {
		return nil, false
	}
	metrics.OracleLatency.WithLabelValues(pair, "cache").Observe(time.Since(start).Seconds())
	return &quote, true
}

func (c *PriceOracleClient) fetch(ctx context.Context, pair string) (*entities.PriceQuote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domainerrors.TransientError("price oracle", fmt.Errorf("rate limiter: %w", err))
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doRequest(ctx, pair)
	})
	if err != nil {
		return nil, domainerrors.TransientError("price oracle", err)
	}

	resp := out.(*priceResponse)
	if !resp.Price.IsPositive() {
		return nil, domainerrors.InvalidPriceError(pair, resp.Price)
	}
	fetchedAt := resp.Timestamp
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}
	return &entities.PriceQuote{
		Pair:      pair,
		Price:     resp.Price,
		High:      resp.High,
		FetchedAt: fetchedAt,
	}, nil
}

func (c *PriceOracleClient) doRequest(ctx context.Context, pair string) (*priceResponse, error) {
	endpoint := fmt.Sprintf("%s/v1/prices/%s", c.config.BaseURL, url.PathEscape(pair))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("price feed error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var parsed priceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &parsed, nil
}
