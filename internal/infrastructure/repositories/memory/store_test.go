package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
	"github.com/rail-service/wallet_ledger/internal/domain/repositories"
)

func TestStore_RollsBackOnError(t *testing.T) {
	store := NewStore()
	userID := uuid.New()
	boom := errors.New("boom")

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
		w, err := tx.Wallets().GetOrCreate(ctx, userID, "USDT")
		require.NoError(t, err)
		require.NoError(t, tx.Wallets().AdjustCachedBalance(ctx, w.ID, decimal.NewFromInt(10)))
		return boom
	})
	assert.Equal(t, boom, err)

	err = store.View(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
		_, err := tx.Wallets().GetByUserToken(ctx, userID, "USDT")
		return err
	})
	assert.True(t, domainerrors.IsNotFound(err), "aborted unit of work leaves no wallet")
}

func TestStore_CommitIsVisible(t *testing.T) {
	store := NewStore()
	userID := uuid.New()

	var walletID uuid.UUID
	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
		w, err := tx.Wallets().GetOrCreate(ctx, userID, "USDT")
		if err != nil {
			return err
		}
		walletID = w.ID
		return tx.Entries().Create(ctx, &entities.LedgerEntry{
			ID:        uuid.New(),
			WalletID:  w.ID,
			UserID:    userID,
			Direction: entities.DirectionIn,
			Amount:    decimal.NewFromInt(7),
			Type:      entities.EntryTypeDeposit,
			CreatedAt: time.Now().UTC(),
		})
	}))

	require.NoError(t, store.View(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
		totals, err := tx.Entries().Aggregate(ctx, entities.BalanceFilter{WalletID: walletID})
		require.NoError(t, err)
		assert.Equal(t, int64(1), totals.EntryCount)
		assert.True(t, decimal.NewFromInt(7).Equal(totals.TotalIn))

		again, err := tx.Wallets().GetOrCreate(ctx, userID, "USDT")
		require.NoError(t, err)
		assert.Equal(t, walletID, again.ID)
		return nil
	}))
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := NewStore().WithinTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestMovementRepo_Uniqueness(t *testing.T) {
	store := NewStore()
	userID := uuid.New()

	record := func(requestID, hash, key string) *entities.MovementRecord {
		return &entities.MovementRecord{
			ID:             uuid.New(),
			RequestID:      requestID,
			Kind:           entities.MovementKindDeposit,
			Status:         entities.MovementStatusCompleted,
			UserID:         userID,
			Token:          "USDT",
			ExternalHash:   hash,
			IdempotencyKey: key,
		}
	}

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
		movements := tx.Movements()
		require.NoError(t, movements.Create(ctx, record("DP000001", "0xabc", "k1")))

		assert.True(t, domainerrors.IsConflict(movements.Create(ctx, record("DP000001", "", ""))))
		assert.ErrorIs(t, movements.Create(ctx, record("DP000002", "0xabc", "")), domainerrors.ErrDuplicateExternalHash)
		assert.True(t, domainerrors.IsConflict(movements.Create(ctx, record("DP000003", "", "k1"))))

		exists, err := movements.ExistsByExternalHash(ctx, "0xabc")
		require.NoError(t, err)
		assert.True(t, exists)

		found, err := movements.GetByIdempotencyKey(ctx, userID, "k1")
		require.NoError(t, err)
		assert.Equal(t, "DP000001", found.RequestID)
		return nil
	})
	require.NoError(t, err)
}

func TestMovementRepo_UpdateStatusIsCompareAndSet(t *testing.T) {
	store := NewStore()
	m := &entities.MovementRecord{
		ID:        uuid.New(),
		RequestID: "WD000001",
		Kind:      entities.MovementKindWithdraw,
		Status:    entities.MovementStatusPending,
		UserID:    uuid.New(),
		Token:     "USDT",
	}

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
		movements := tx.Movements()
		require.NoError(t, movements.Create(ctx, m))

		m.Status = entities.MovementStatusCompleted
		require.NoError(t, movements.UpdateStatus(ctx, m, entities.MovementStatusPending))

		m.Status = entities.MovementStatusRejectedReimbursed
		err := movements.UpdateStatus(ctx, m, entities.MovementStatusPending)
		assert.True(t, domainerrors.IsConflict(err))

		stored, err := movements.GetByRequestID(ctx, "WD000001")
		require.NoError(t, err)
		assert.Equal(t, entities.MovementStatusCompleted, stored.Status)
		return nil
	})
	require.NoError(t, err)
}

func TestWalletRepo_ListActivePages(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
		for i := 0; i < 3; i++ {
			if _, err := tx.Wallets().GetOrCreate(ctx, uuid.New(), "USDT"); err != nil {
				return err
			}
		}
		gone, err := tx.Wallets().GetOrCreate(ctx, uuid.New(), "BTC")
		if err != nil {
			return err
		}
		return tx.Wallets().SoftDelete(ctx, gone.ID)
	}))

	require.NoError(t, store.View(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
		first, err := tx.Wallets().ListActive(ctx, 2, 0)
		require.NoError(t, err)
		assert.Len(t, first, 2)

		rest, err := tx.Wallets().ListActive(ctx, 2, 2)
		require.NoError(t, err)
		assert.Len(t, rest, 1)

		empty, err := tx.Wallets().ListActive(ctx, 2, 10)
		require.NoError(t, err)
		assert.Empty(t, empty)
		return nil
	}))
}

func TestSequenceAndAddresses(t *testing.T) {
	ctx := context.Background()
	seq := NewSequence()
	first, _ := seq.Next(ctx, entities.FamilyDeposit)
	second, _ := seq.Next(ctx, entities.FamilyDeposit)
	other, _ := seq.Next(ctx, entities.FamilyWithdraw)
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
	assert.Equal(t, int64(1), other)

	book := NewAddresses()
	userID := uuid.New()
	require.NoError(t, book.Register(ctx, "TXabc", userID))
	resolved, err := book.ResolveUser(ctx, "txABC")
	require.NoError(t, err)
	assert.Equal(t, userID, resolved)

	_, err = book.ResolveUser(ctx, "unknown")
	assert.True(t, domainerrors.IsNotFound(err))
}
