package movement

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
	"github.com/rail-service/wallet_ledger/internal/domain/repositories"
)

// GetBalance replays the log of a wallet owned by userID
func (s *Service) GetBalance(ctx context.Context, userID, walletID uuid.UUID) (*entities.Balance, error) {
	return s.balance(ctx, userID, walletID, nil)
}

// GetBalanceAt replays the log of a wallet up to at
func (s *Service) GetBalanceAt(ctx context.Context, userID, walletID uuid.UUID, at time.Time) (*entities.Balance, error) {
	return s.balance(ctx, userID, walletID, &at)
}

func (s *Service) balance(ctx context.Context, userID, walletID uuid.UUID, at *time.Time) (*entities.Balance, error) {
	var balance *entities.Balance
	err := s.store.View(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		wallet, err := tx.Wallets().GetByID(ctx, walletID)
		if err != nil {
			return err
		}
		// Another user's wallet is reported as missing.
		if wallet.UserID != userID || wallet.IsDeleted() {
			return domainerrors.NotFoundError("WALLET", domainerrors.ErrWalletNotFound)
		}
		calc := s.ledger.Calculator()
		if at != nil {
			balance, err = calc.BalanceAt(ctx, tx.Entries(), wallet.ID, *at)
		} else {
			balance, err = calc.Balance(ctx, tx.Entries(), wallet.ID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// GetOrCreateWallet returns the user's live wallet for token
func (s *Service) GetOrCreateWallet(ctx context.Context, userID uuid.UUID, token string) (*entities.Wallet, error) {
	t, err := s.catalog.Token(token)
	if err != nil {
		return nil, err
	}
	var wallet *entities.Wallet
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		wallet, err = s.ledger.ResolveWallet(ctx, tx, userID, t.Symbol)
		return err
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// SoftDeleteWallet retires an empty wallet. Its entries stay in the log.
func (s *Service) SoftDeleteWallet(ctx context.Context, userID, walletID uuid.UUID) error {
	return s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		wallet, err := tx.Wallets().LockForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		if wallet.UserID != userID || wallet.IsDeleted() {
			return domainerrors.NotFoundError("WALLET", domainerrors.ErrWalletNotFound)
		}
		balance, err := s.ledger.Calculator().Balance(ctx, tx.Entries(), wallet.ID)
		if err != nil {
			return err
		}
		if !balance.Available.IsZero() {
			return domainerrors.ConflictError("wallet", "wallet balance must be zero before deletion")
		}
		return s.ledger.SoftDeleteWallet(ctx, tx, wallet.ID)
	})
}

// GetMovement looks a movement up by request id
func (s *Service) GetMovement(ctx context.Context, requestID string) (*entities.MovementRecord, error) {
	var record *entities.MovementRecord
	err := s.store.View(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		r, err := tx.Movements().GetByRequestID(ctx, requestID)
		if err != nil {
			return err
		}
		record = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListEntries returns a page of a wallet's ledger entries, newest first
func (s *Service) ListEntries(ctx context.Context, userID, walletID uuid.UUID, limit, offset int) ([]*entities.LedgerEntry, error) {
	var entries []*entities.LedgerEntry
	err := s.store.View(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		wallet, err := tx.Wallets().GetByID(ctx, walletID)
		if err != nil {
			return err
		}
		if wallet.UserID != userID {
			return domainerrors.NotFoundError("WALLET", domainerrors.ErrWalletNotFound)
		}
		entries, err = tx.Entries().ListByWallet(ctx, walletID, limit, offset)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
