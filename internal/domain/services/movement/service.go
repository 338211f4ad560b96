// Package movement is the fund-movement orchestrator. Every operation runs
// its balance checks and ledger writes in one unit of work and leaves
// external side effects (payouts, notifications) until after commit.
package movement

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
	"github.com/rail-service/wallet_ledger/internal/domain/repositories"
	"github.com/rail-service/wallet_ledger/internal/domain/services/dueoffset"
	"github.com/rail-service/wallet_ledger/internal/domain/services/ledger"
	"github.com/rail-service/wallet_ledger/internal/domain/services/pricing"
	"github.com/rail-service/wallet_ledger/internal/domain/services/reimbursement"
	"github.com/rail-service/wallet_ledger/internal/domain/services/settings"
	"github.com/rail-service/wallet_ledger/pkg/logger"
	"github.com/rail-service/wallet_ledger/pkg/metrics"
)

const tracerName = "movement.service"

// PayoutRequest asks the external gateway to send value on chain
type PayoutRequest struct {
	RequestID string          `json:"request_id"`
	Token     string          `json:"token"`
	Network   string          `json:"network"`
	Address   string          `json:"address"`
	Amount    decimal.Decimal `json:"amount"`
}

// PayoutAck is the gateway's acceptance of a payout request
type PayoutAck struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// PayoutGateway sends external payouts. Implementations must treat
// RequestID as an idempotency key.
type PayoutGateway interface {
	RequestPayout(ctx context.Context, req PayoutRequest) (*PayoutAck, error)
}

// Event is emitted after a movement record is created or transitioned
type Event struct {
	Record   entities.MovementRecord
	Previous entities.MovementStatus
}

// Notifier receives fire-and-forget movement events
type Notifier interface {
	MovementUpdated(ctx context.Context, event Event) error
}

// Config tunes orchestrator behaviour
type Config struct {
	// SuppressNotifications is the default applied when a call does not opt out itself.
	SuppressNotifications bool
	PayoutTimeout         time.Duration
	NotifyTimeout         time.Duration
}

// Dependencies are the collaborators of the orchestrator
type Dependencies struct {
	Store         repositories.LedgerStore
	Sequence      *ledger.Generator
	Ledger        *ledger.Service
	Prices        *pricing.PriceResolver
	Converter     *pricing.Converter
	Catalog       *settings.Catalog
	DueOffset     *dueoffset.Engine
	Reimbursement *reimbursement.Handler
	Payouts       PayoutGateway
	Notifier      Notifier
	Identities    repositories.AddressRepository
}

// Service orchestrates deposits, withdrawals, swaps, transfers, stakes and due charges
type Service struct {
	store         repositories.LedgerStore
	sequence      *ledger.Generator
	ledger        *ledger.Service
	prices        *pricing.PriceResolver
	converter     *pricing.Converter
	catalog       *settings.Catalog
	dueOffset     *dueoffset.Engine
	reimbursement *reimbursement.Handler
	payouts       PayoutGateway
	notifier      Notifier
	identities    repositories.AddressRepository
	config        Config
	logger        *logger.Logger
}

// NewService creates the orchestrator
func NewService(deps Dependencies, config Config, logger *logger.Logger) *Service {
	if config.PayoutTimeout <= 0 {
		config.PayoutTimeout = 30 * time.Second
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = 10 * time.Second
	}
	return &Service{
		store:         deps.Store,
		sequence:      deps.Sequence,
		ledger:        deps.Ledger,
		prices:        deps.Prices,
		converter:     deps.Converter,
		catalog:       deps.Catalog,
		dueOffset:     deps.DueOffset,
		reimbursement: deps.Reimbursement,
		payouts:       deps.Payouts,
		notifier:      deps.Notifier,
		identities:    deps.Identities,
		config:        config,
		logger:        logger,
	}
}

func (s *Service) precision() int32 {
	return s.ledger.Calculator().Precision()
}

func (s *Service) round(amount decimal.Decimal) decimal.Decimal {
	return s.ledger.Calculator().Round(amount)
}

// nextID issues a serial outside of any unit of work. An aborted movement
// leaves a gap, never a reused id.
func (s *Service) nextID(ctx context.Context, kind entities.MovementKind) (int64, string, error) {
	serial, requestID, err := s.sequence.Next(ctx, kind)
	if err != nil {
		return 0, "", domainerrors.TransientError("sequence", err)
	}
	return serial, requestID, nil
}

// replay returns the movement previously created under the idempotency
// key, or nil when the key is new or empty.
func (s *Service) replay(ctx context.Context, userID uuid.UUID, key string) (*entities.MovementRecord, error) {
	if key == "" {
		return nil, nil
	}
	var existing *entities.MovementRecord
	err := s.store.View(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		record, err := tx.Movements().GetByIdempotencyKey(ctx, userID, key)
		if err != nil {
			if domainerrors.IsNotFound(err) {
				return nil
			}
			return err
		}
		existing = record
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if existing != nil {
		s.logger.Info("Replaying idempotent request",
			"request_id", existing.RequestID,
			"user_id", userID,
			"idempotency_key", key,
		)
	}
	return existing, nil
}

// resolveConflict turns a lost idempotency race into a replay
func (s *Service) resolveConflict(ctx context.Context, userID uuid.UUID, key string, err error) (*entities.MovementRecord, error) {
	if key == "" || !domainerrors.IsConflict(err) {
		return nil, err
	}
	existing, lookupErr := s.replay(ctx, userID, key)
	if lookupErr != nil || existing == nil {
		return nil, err
	}
	return existing, nil
}

// lockWallets locks every wallet in a stable order so two movements over
// the same pair of wallets cannot deadlock.
func (s *Service) lockWallets(ctx context.Context, tx repositories.LedgerTx, wallets ...*entities.Wallet) error {
	ordered := make([]*entities.Wallet, len(wallets))
	copy(ordered, wallets)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ID.String() < ordered[j].ID.String()
	})
	for _, w := range ordered {
		if _, err := tx.Wallets().LockForUpdate(ctx, w.ID); err != nil {
			return fmt.Errorf("lock wallet %s: %w", w.ID, err)
		}
	}
	return nil
}

// resolveAmount snaps an "all" request to the available balance and checks
// sufficiency against the locked balance.
func (s *Service) resolveAmount(requested decimal.Decimal, all bool, balance *entities.Balance) (decimal.Decimal, error) {
	amount := requested
	if all {
		amount = balance.Available
	}
	amount = s.round(amount)
	if !amount.IsPositive() {
		if all {
			return decimal.Zero, domainerrors.InsufficientBalanceError(balance.Available, amount)
		}
		return decimal.Zero, domainerrors.InvalidAmountError(amount)
	}
	if amount.GreaterThan(balance.Available) {
		return decimal.Zero, domainerrors.InsufficientBalanceError(balance.Available, amount)
	}
	return amount, nil
}

func checkBounds(amount, minimum, maximum decimal.Decimal) error {
	if minimum.IsPositive() && amount.LessThan(minimum) {
		return domainerrors.BelowMinimumError(amount, minimum)
	}
	if maximum.IsPositive() && amount.GreaterThan(maximum) {
		return domainerrors.AboveMaximumError(amount, maximum)
	}
	return nil
}

func newRecord(kind entities.MovementKind, serial int64, requestID string, userID uuid.UUID, wallet *entities.Wallet, opts entities.CallOptions) *entities.MovementRecord {
	now := time.Now().UTC()
	return &entities.MovementRecord{
		ID:             uuid.New(),
		RequestID:      requestID,
		Serial:         serial,
		Kind:           kind,
		UserID:         userID,
		WalletID:       wallet.ID,
		Token:          wallet.Token,
		IdempotencyKey: opts.IdempotencyKey,
		Fee:            decimal.Zero,
		Commission:     decimal.Zero,
		Metadata:       make(map[string]interface{}),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (s *Service) recorded(records ...*entities.MovementRecord) {
	for _, r := range records {
		if r == nil {
			continue
		}
		metrics.MovementsTotal.WithLabelValues(r.Kind.String(), string(r.Status)).Inc()
	}
}
