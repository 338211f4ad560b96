//go:build integration
// +build integration

package repositories

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
	domainrepos "github.com/rail-service/wallet_ledger/internal/domain/repositories"
	"github.com/rail-service/wallet_ledger/internal/infrastructure/database"
)

// Run with: TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/infrastructure/repositories/
func setupStore(t *testing.T) (*sqlx.DB, *PostgresStore) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sqlx.Connect("postgres", url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.RunMigrations(db.DB, "file://../../../migrations"))
	return db, NewPostgresStore(db, zap.NewNop())
}

func TestWalletRepository_GetOrCreate(t *testing.T) {
	_, store := setupStore(t)
	ctx := context.Background()
	userID := uuid.New()

	var first, second, recreated *entities.Wallet
	err := store.WithinTx(ctx, func(ctx context.Context, tx domainrepos.LedgerTx) error {
		var err error
		if first, err = tx.Wallets().GetOrCreate(ctx, userID, "USDT"); err != nil {
			return err
		}
		second, err = tx.Wallets().GetOrCreate(ctx, userID, "USDT")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "a live wallet is reused")

	err = store.WithinTx(ctx, func(ctx context.Context, tx domainrepos.LedgerTx) error {
		if err := tx.Wallets().SoftDelete(ctx, first.ID); err != nil {
			return err
		}
		var err error
		recreated, err = tx.Wallets().GetOrCreate(ctx, userID, "USDT")
		return err
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, recreated.ID, "a deleted wallet does not block a new live one")

	err = store.View(ctx, func(ctx context.Context, tx domainrepos.LedgerTx) error {
		deleted, err := tx.Wallets().GetByID(ctx, first.ID)
		require.NoError(t, err)
		assert.True(t, deleted.IsDeleted())

		live, err := tx.Wallets().GetByUserToken(ctx, userID, "USDT")
		require.NoError(t, err)
		assert.Equal(t, recreated.ID, live.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestWalletRepository_LockForUpdateBlocksOtherWriters(t *testing.T) {
	db, store := setupStore(t)
	ctx := context.Background()

	var wallet *entities.Wallet
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domainrepos.LedgerTx) error {
		var err error
		wallet, err = tx.Wallets().GetOrCreate(ctx, uuid.New(), "USDT")
		return err
	}))

	holder, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	defer holder.Rollback()
	_, err = newLedgerTx(holder, zap.NewNop()).Wallets().LockForUpdate(ctx, wallet.ID)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	err = store.WithinTx(waitCtx, func(ctx context.Context, tx domainrepos.LedgerTx) error {
		_, err := tx.Wallets().LockForUpdate(ctx, wallet.ID)
		return err
	})
	assert.Error(t, err, "second locker waits until the holder ends")

	require.NoError(t, holder.Rollback())
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domainrepos.LedgerTx) error {
		_, err := tx.Wallets().LockForUpdate(ctx, wallet.ID)
		return err
	}))
}

func TestMovementRepository_UpdateStatusComparesAndSets(t *testing.T) {
	_, store := setupStore(t)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now().UTC()

	var record *entities.MovementRecord
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domainrepos.LedgerTx) error {
		wallet, err := tx.Wallets().GetOrCreate(ctx, userID, "USDT")
		if err != nil {
			return err
		}
		record = &entities.MovementRecord{
			ID:            uuid.New(),
			RequestID:     "WD" + uuid.NewString()[:8],
			Serial:        1,
			Kind:          entities.MovementKindWithdraw,
			Status:        entities.MovementStatusPending,
			UserID:        userID,
			WalletID:      wallet.ID,
			Token:         wallet.Token,
			Amount:        decimal.NewFromInt(40),
			PayableAmount: decimal.NewFromInt(39),
			Metadata:      map[string]interface{}{},
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return tx.Movements().Create(ctx, record)
	}))

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domainrepos.LedgerTx) error {
		current, err := tx.Movements().GetByRequestIDForUpdate(ctx, record.RequestID)
		if err != nil {
			return err
		}
		current.Status = entities.MovementStatusCompleted
		current.SetMetadata("tx_hash", "0xabc")
		return tx.Movements().UpdateStatus(ctx, current, entities.MovementStatusPending)
	}))

	err := store.WithinTx(ctx, func(ctx context.Context, tx domainrepos.LedgerTx) error {
		stale := *record
		stale.Status = entities.MovementStatusOnchainFailureReimbursed
		return tx.Movements().UpdateStatus(ctx, &stale, entities.MovementStatusPending)
	})
	assert.True(t, domainerrors.IsConflict(err), "got %v", err)

	require.NoError(t, store.View(ctx, func(ctx context.Context, tx domainrepos.LedgerTx) error {
		stored, err := tx.Movements().GetByRequestID(ctx, record.RequestID)
		require.NoError(t, err)
		assert.Equal(t, entities.MovementStatusCompleted, stored.Status)
		assert.Equal(t, "0xabc", stored.Metadata["tx_hash"])
		return nil
	}))

	missing := *record
	missing.ID = uuid.New()
	err = store.WithinTx(ctx, func(ctx context.Context, tx domainrepos.LedgerTx) error {
		return tx.Movements().UpdateStatus(ctx, &missing, entities.MovementStatusCompleted)
	})
	assert.True(t, domainerrors.IsNotFound(err), "got %v", err)
}
