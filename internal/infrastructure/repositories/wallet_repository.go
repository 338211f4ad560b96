package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
)

const walletColumns = `id, user_id, token, cached_balance, deleted_at, created_at, updated_at`

// WalletRepository persists wallets inside one ledger transaction
type WalletRepository struct {
	tx     *sqlx.Tx
	logger *zap.Logger
}

func (r *WalletRepository) get(ctx context.Context, query string, args ...interface{}) (*entities.Wallet, error) {
	var wallet entities.Wallet
	if err := r.tx.GetContext(ctx, &wallet, query, args...); err != nil {
		if nf := notFound(err, "WALLET", domainerrors.ErrWalletNotFound); nf != nil {
			return nil, nf
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return &wallet, nil
}

// GetByID retrieves a wallet, deleted or not
func (r *WalletRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Wallet, error) {
	return r.get(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id)
}

// GetByUserToken retrieves the live wallet for a (user, token) pair
func (r *WalletRepository) GetByUserToken(ctx context.Context, userID uuid.UUID, token string) (*entities.Wallet, error) {
	return r.get(ctx, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE user_id = $1 AND token = $2 AND deleted_at IS NULL`, userID, token)
}

// GetOrCreate inserts the wallet if no live one exists and returns the live row
func (r *WalletRepository) GetOrCreate(ctx context.Context, userID uuid.UUID, token string) (*entities.Wallet, error) {
	wallet := entities.NewWallet(userID, token)
	query := `
		INSERT INTO wallets (id, user_id, token, cached_balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, token) WHERE deleted_at IS NULL DO NOTHING`

	result, err := r.tx.ExecContext(ctx, query,
		wallet.ID, wallet.UserID, wallet.Token, wallet.CachedBalance, wallet.CreatedAt, wallet.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 1 {
		r.logger.Debug("Created wallet",
			zap.String("wallet_id", wallet.ID.String()),
			zap.String("user_id", userID.String()),
			zap.String("token", token))
		return wallet, nil
	}
	return r.GetByUserToken(ctx, userID, token)
}

// LockForUpdate takes a row lock held until the transaction ends
func (r *WalletRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*entities.Wallet, error) {
	return r.get(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id)
}

// AdjustCachedBalance adds delta to the cached balance
func (r *WalletRepository) AdjustCachedBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	return r.exec(ctx, `
		UPDATE wallets SET cached_balance = cached_balance + $1, updated_at = $2
		WHERE id = $3`, delta, time.Now().UTC(), id)
}

// SetCachedBalance overwrites the cached balance
func (r *WalletRepository) SetCachedBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	return r.exec(ctx, `
		UPDATE wallets SET cached_balance = $1, updated_at = $2
		WHERE id = $3`, balance, time.Now().UTC(), id)
}

// SoftDelete marks the wallet deleted; its entries stay in place
func (r *WalletRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return r.exec(ctx, `
		UPDATE wallets SET deleted_at = $1, updated_at = $1
		WHERE id = $2`, now, id)
}

// ListActive pages through live wallets in creation order
func (r *WalletRepository) ListActive(ctx context.Context, limit, offset int) ([]*entities.Wallet, error) {
	wallets := []*entities.Wallet{}
	query := `
		SELECT ` + walletColumns + `
		FROM wallets
		WHERE deleted_at IS NULL
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2`
	if err := r.tx.SelectContext(ctx, &wallets, query, limit, offset); err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	return wallets, nil
}

func (r *WalletRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domainerrors.NotFoundError("WALLET", domainerrors.ErrWalletNotFound)
	}
	return nil
}
