// Package reconciliation replays every wallet's ledger and compares it with
// the cached balance kept on the wallet row.
package reconciliation

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	"github.com/rail-service/wallet_ledger/internal/domain/repositories"
	"github.com/rail-service/wallet_ledger/internal/domain/services/ledger"
	"github.com/rail-service/wallet_ledger/pkg/logger"
	"github.com/rail-service/wallet_ledger/pkg/metrics"
)

// Config holds reconciliation service configuration
type Config struct {
	// AutoCorrect rewrites a drifting cached balance with the replayed one.
	AutoCorrect bool
	// Tolerance is the largest difference not reported as drift.
	Tolerance          decimal.Decimal
	BatchSize          int
	AlertWebhookURL    string
	AlertWebhookSecret string
}

// Drift is one wallet whose cached balance disagreed with its log
type Drift struct {
	WalletID   uuid.UUID       `json:"wallet_id"`
	UserID     uuid.UUID       `json:"user_id"`
	Token      string          `json:"token"`
	Cached     decimal.Decimal `json:"cached"`
	Replayed   decimal.Decimal `json:"replayed"`
	Difference decimal.Decimal `json:"difference"`
	Corrected  bool            `json:"corrected"`
}

// Report summarises one reconciliation run
type Report struct {
	ID             uuid.UUID  `json:"id"`
	RunType        string     `json:"run_type"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	WalletsChecked int        `json:"wallets_checked"`
	Corrected      int        `json:"corrected"`
	Failed         int        `json:"failed"`
	Drifts         []*Drift   `json:"drifts"`
}

// Service handles reconciliation operations
type Service struct {
	store      repositories.LedgerStore
	calculator *ledger.Calculator
	logger     *logger.Logger
	config     Config
	client     *http.Client

	mu     sync.RWMutex
	latest *Report
}

// NewService creates a new reconciliation service
func NewService(store repositories.LedgerStore, calculator *ledger.Calculator, logger *logger.Logger, config Config) *Service {
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	return &Service{
		store:      store,
		calculator: calculator,
		logger:     logger,
		config:     config,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// RunReconciliation checks every live wallet, page by page
func (s *Service) RunReconciliation(ctx context.Context, runType string) (*Report, error) {
	ctx, span := otel.Tracer("reconciliation.service").Start(ctx, "RunReconciliation")
	defer span.End()

	span.SetAttributes(attribute.String("run_type", runType))
	s.logger.Info("Starting reconciliation run", "run_type", runType)

	report := &Report{ID: uuid.New(), RunType: runType, StartedAt: time.Now().UTC(), Drifts: []*Drift{}}
	for offset := 0; ; offset += s.config.BatchSize {
		wallets, err := s.listWallets(ctx, offset)
		if err != nil {
			metrics.ReconciliationRunsTotal.WithLabelValues("error").Inc()
			span.RecordError(err)
			return nil, fmt.Errorf("failed to list wallets: %w", err)
		}
		for _, wallet := range wallets {
			report.WalletsChecked++
			drift, err := s.ReconcileWallet(ctx, wallet.ID)
			if err != nil {
				report.Failed++
				s.logger.Error("Failed to reconcile wallet", "wallet_id", wallet.ID, "error", err)
				continue
			}
			if drift != nil {
				report.Drifts = append(report.Drifts, drift)
				if drift.Corrected {
					report.Corrected++
				}
			}
		}
		if len(wallets) < s.config.BatchSize {
			break
		}
	}

	now := time.Now().UTC()
	report.CompletedAt = &now
	metrics.ReconciliationRunsTotal.WithLabelValues("completed").Inc()

	s.mu.Lock()
	s.latest = report
	s.mu.Unlock()

	if len(report.Drifts) > 0 && s.config.AlertWebhookURL != "" {
		s.sendWebhookAlert(ctx, report)
	}

	s.logger.Info("Reconciliation run completed",
		"report_id", report.ID,
		"wallets_checked", report.WalletsChecked,
		"drifts", len(report.Drifts),
		"corrected", report.Corrected,
		"failed", report.Failed,
	)
	return report, nil
}

func (s *Service) listWallets(ctx context.Context, offset int) ([]*entities.Wallet, error) {
	var wallets []*entities.Wallet
	err := s.store.View(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		page, err := tx.Wallets().ListActive(ctx, s.config.BatchSize, offset)
		if err != nil {
			return err
		}
		wallets = page
		return nil
	})
	return wallets, err
}

// ReconcileWallet replays one wallet under lock. It returns nil when the
// cached balance matches the log within tolerance.
func (s *Service) ReconcileWallet(ctx context.Context, walletID uuid.UUID) (*Drift, error) {
	var drift *Drift
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		wallet, err := tx.Wallets().LockForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		balance, err := s.calculator.Balance(ctx, tx.Entries(), wallet.ID)
		if err != nil {
			return err
		}
		cached := s.calculator.Round(wallet.CachedBalance)
		difference := balance.Available.Sub(cached)
		if difference.Abs().LessThanOrEqual(s.config.Tolerance) {
			return nil
		}

		drift = &Drift{
			WalletID:   wallet.ID,
			UserID:     wallet.UserID,
			Token:      wallet.Token,
			Cached:     cached,
			Replayed:   balance.Available,
			Difference: difference,
		}
		if s.config.AutoCorrect {
			if err := tx.Wallets().SetCachedBalance(ctx, wallet.ID, balance.Available); err != nil {
				return fmt.Errorf("failed to correct cached balance: %w", err)
			}
			drift.Corrected = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if drift != nil {
		metrics.ReconciliationDriftTotal.WithLabelValues(drift.Token, fmt.Sprintf("%t", drift.Corrected)).Inc()
		s.logger.Warn("Cached balance drift detected",
			"wallet_id", drift.WalletID,
			"token", drift.Token,
			"cached", drift.Cached.String(),
			"replayed", drift.Replayed.String(),
			"corrected", drift.Corrected,
		)
	}
	return drift, nil
}

// LatestReport returns the last completed run, if any
func (s *Service) LatestReport() *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// sendWebhookAlert posts the drifts to the alert webhook, signed with
// HMAC-SHA256 when a secret is configured
func (s *Service) sendWebhookAlert(ctx context.Context, report *Report) {
	body, err := json.Marshal(map[string]interface{}{
		"event":     "ledger.reconciliation.drift",
		"report_id": report.ID,
		"run_type":  report.RunType,
		"drifts":    report.Drifts,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Error("Failed to marshal webhook payload", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.AlertWebhookURL, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("Failed to create webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.AlertWebhookSecret != "" {
		mac := hmac.New(sha256.New, []byte(s.config.AlertWebhookSecret))
		mac.Write(body)
		req.Header.Set("X-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("Webhook request failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		s.logger.Error("Webhook returned error status", "status", resp.StatusCode)
		return
	}
	s.logger.Info("Webhook alert sent", "drifts", len(report.Drifts))
}
