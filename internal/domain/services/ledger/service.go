package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
	"github.com/rail-service/wallet_ledger/internal/domain/repositories"
	"github.com/rail-service/wallet_ledger/pkg/logger"
)

// Service posts entries and resolves wallets inside a caller's unit of work
type Service struct {
	calculator *Calculator
	logger     *logger.Logger
}

// NewService creates a new ledger service
func NewService(calculator *Calculator, logger *logger.Logger) *Service {
	return &Service{
		calculator: calculator,
		logger:     logger,
	}
}

// Calculator returns the balance calculator used by the service
func (s *Service) Calculator() *Calculator {
	return s.calculator
}

// ResolveWallet returns the live wallet for (user, token), creating it lazily
func (s *Service) ResolveWallet(ctx context.Context, tx repositories.LedgerTx, userID uuid.UUID, token string) (*entities.Wallet, error) {
	wallet, err := tx.Wallets().GetOrCreate(ctx, userID, token)
	if err != nil {
		return nil, fmt.Errorf("get or create wallet: %w", err)
	}
	if wallet.IsDeleted() {
		return nil, domainerrors.NotFoundError("WALLET", domainerrors.ErrWalletDeleted)
	}
	return wallet, nil
}

// LockWallet resolves and locks the wallet, then replays its balance. The
// returned balance stays valid until the unit of work ends.
func (s *Service) LockWallet(ctx context.Context, tx repositories.LedgerTx, userID uuid.UUID, token string) (*entities.Wallet, *entities.Balance, error) {
	wallet, err := s.ResolveWallet(ctx, tx, userID, token)
	if err != nil {
		return nil, nil, err
	}
	locked, err := tx.Wallets().LockForUpdate(ctx, wallet.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock wallet: %w", err)
	}
	balance, err := s.calculator.Balance(ctx, tx.Entries(), locked.ID)
	if err != nil {
		return nil, nil, err
	}
	return locked, balance, nil
}

// Post writes entries and applies their signed amounts to the cached balances
func (s *Service) Post(ctx context.Context, tx repositories.LedgerTx, entries []*entities.LedgerEntry) error {
	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			return domainerrors.InternalError("refusing to write invalid ledger entry", err)
		}
		if err := tx.Entries().Create(ctx, entry); err != nil {
			return fmt.Errorf("create entry: %w", err)
		}
		if err := tx.Wallets().AdjustCachedBalance(ctx, entry.WalletID, entry.Signed()); err != nil {
			return fmt.Errorf("update cached balance: %w", err)
		}
	}

	s.logger.Debug("Ledger entries posted", "count", len(entries))
	return nil
}

// SoftDeleteWallet hides a wallet without removing its history
func (s *Service) SoftDeleteWallet(ctx context.Context, tx repositories.LedgerTx, walletID uuid.UUID) error {
	if err := tx.Wallets().SoftDelete(ctx, walletID); err != nil {
		return fmt.Errorf("soft delete wallet: %w", err)
	}
	s.logger.Info("Wallet soft-deleted", "wallet_id", walletID)
	return nil
}
