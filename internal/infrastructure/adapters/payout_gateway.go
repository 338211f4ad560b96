package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/rail-service/wallet_ledger/internal/domain/services/movement"
	"github.com/rail-service/wallet_ledger/pkg/retry"
	"github.com/rail-service/wallet_ledger/pkg/security"
	"github.com/rail-service/wallet_ledger/pkg/tracing"
)

// PayoutGatewayConfig configures the custodial payout API client
type PayoutGatewayConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	TLS        security.ClientTLSConfig
}

// PayoutGatewayClient submits payouts to the custodial API. The request id
// is sent as the Idempotency-Key so retries never double-send.
type PayoutGatewayClient struct {
	config     PayoutGatewayConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	retrier    *retry.Retrier
	logger     *zap.Logger
}

var _ movement.PayoutGateway = (*PayoutGatewayClient)(nil)

// StatusError is a non-2xx gateway response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("payout gateway error: status %d, body: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the gateway may accept the same request later
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// NewPayoutGatewayClient creates a new payout gateway client
func NewPayoutGatewayClient(config PayoutGatewayConfig, logger *zap.Logger) (*PayoutGatewayClient, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	policy := retry.DefaultPolicy()
	policy.MaxRetries = config.MaxRetries
	policy.RetryableFunc = retryablePayoutError
	retrier, err := retry.NewRetrier(policy, logger)
	if err != nil {
		return nil, err
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "PayoutGateway",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return !statusErr.Retryable()
			}
			return err == nil
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	httpClient, err := config.TLS.HTTPClient(config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to configure payout gateway TLS: %w", err)
	}

	return &PayoutGatewayClient{
		config:     config,
		httpClient: httpClient,
		breaker:    breaker,
		retrier:    retrier,
		logger:     logger,
	}, nil
}

func retryablePayoutError(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return true
}

// RequestPayout submits one payout and returns the gateway's acknowledgement
func (c *PayoutGatewayClient) RequestPayout(ctx context.Context, req movement.PayoutRequest) (*movement.PayoutAck, error) {
	ctx, span := tracing.GetTracer("adapters.payout_gateway").Start(ctx, "RequestPayout")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", req.RequestID),
		attribute.String("token", req.Token),
		attribute.String("network", req.Network),
	)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payout request: %w", err)
	}

	var ack movement.PayoutAck
	err = c.retrier.Do(ctx, func(ctx context.Context) error {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.post(ctx, req.RequestID, payload, &ack)
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("Payout request failed",
			zap.String("request_id", req.RequestID),
			zap.String("token", req.Token),
			zap.Error(err))
		return nil, fmt.Errorf("request payout %s: %w", req.RequestID, err)
	}

	c.logger.Info("Payout requested",
		zap.String("request_id", req.RequestID),
		zap.String("reference", ack.Reference),
		zap.String("status", ack.Status))
	return &ack, nil
}

func (c *PayoutGatewayClient) post(ctx context.Context, requestID string, payload []byte, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/payouts", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Idempotency-Key", requestID)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}
