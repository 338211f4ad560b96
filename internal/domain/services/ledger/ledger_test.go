package ledger

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
	"github.com/rail-service/wallet_ledger/internal/infrastructure/repositories/memory"
	"github.com/rail-service/wallet_ledger/pkg/logger"
)

func TestEncodeRequestID(t *testing.T) {
	tests := []struct {
		kind   entities.MovementKind
		serial int64
		want   string
	}{
		{entities.MovementKindWithdraw, 1, "WD000001"},
		{entities.MovementKindWithdraw, 36, "WD000010"},
		{entities.MovementKindDeposit, 46655, "DP000ZZZ"},
		{entities.MovementKindReimbursement, 2176782335, "RBZZZZZZ"},
		{entities.MovementKindSwap, 2176782336, "SW1000000"},
		{entities.MovementKindDueCharge, 7, "DC000007"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			id := EncodeRequestID(tt.kind, tt.serial, DefaultRequestIDWidth)
			assert.Equal(t, tt.want, id)

			kind, serial, err := DecodeRequestID(id)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.serial, serial)
		})
	}

	_, _, err := DecodeRequestID("XX0001")
	assert.Error(t, err)
	_, _, err = DecodeRequestID("WD")
	assert.Error(t, err)
}

type failingSequence struct{}

func (failingSequence) Next(ctx context.Context, family entities.SequenceFamily) (int64, error) {
	return 0, errors.New("counter unavailable")
}

func TestGenerator_FamiliesAreIndependent(t *testing.T) {
	ctx := context.Background()
	gen := NewGenerator(memory.NewSequence(), 0)

	serial, id, err := gen.Next(ctx, entities.MovementKindWithdraw)
	require.NoError(t, err)
	assert.Equal(t, int64(1), serial)
	assert.Equal(t, "WD000001", id)

	_, id, err = gen.Next(ctx, entities.MovementKindDeposit)
	require.NoError(t, err)
	assert.Equal(t, "DP000001", id)

	// reimbursements share the deposit counter
	serial, id, err = gen.Next(ctx, entities.MovementKindReimbursement)
	require.NoError(t, err)
	assert.Equal(t, int64(2), serial)
	assert.Equal(t, "RB000002", id)

	_, _, err = gen.Next(ctx, entities.MovementKind(200))
	assert.Error(t, err)

	_, _, err = NewGenerator(failingSequence{}, 6).Next(ctx, entities.MovementKindSwap)
	assert.Error(t, err)
}

func post(t *testing.T, store repositories.LedgerStore, svc *Service, userID uuid.UUID, token string, build func(*EntryBuilder, *entities.Wallet)) {
	t.Helper()
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
		wallet, err := svc.ResolveWallet(ctx, tx, userID, token)
		if err != nil {
			return err
		}
		b := NewEntryBuilder(uuid.New(), "TEST", entities.MovementKindDeposit)
		build(b, wallet)
		entries, err := b.Build()
		if err != nil {
			return err
		}
		return svc.Post(ctx, tx, entries)
	})
	require.NoError(t, err)
}

func TestService_BalanceIsReplayedFromEntries(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(NewCalculator(DefaultPrecision), logger.NewNop())
	userID := uuid.New()

	post(t, store, svc, userID, "USDT", func(b *EntryBuilder, w *entities.Wallet) {
		b.AddIn(w, decimal.NewFromInt(100), entities.EntryTypeDeposit, "deposit")
	})
	post(t, store, svc, userID, "USDT", func(b *EntryBuilder, w *entities.Wallet) {
		b.AddOut(w, decimal.NewFromInt(30), entities.EntryTypeStake, "stake")
	})
	post(t, store, svc, userID, "USDT", func(b *EntryBuilder, w *entities.Wallet) {
		b.AddOut(w, decimal.RequireFromString("12.5"), entities.EntryTypeWithdraw, "withdraw")
	})

	err := store.View(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
		wallet, balance, err := svc.LockWallet(ctx, tx, userID, "USDT")
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("57.5").Equal(balance.Available), "got %s", balance.Available)
		assert.True(t, decimal.NewFromInt(30).Equal(balance.TotalStaked))
		assert.True(t, balance.Available.Equal(wallet.CachedBalance), "cached balance follows the log")
		return nil
	})
	require.NoError(t, err)
}

func TestCalculator_BalanceAt(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(NewCalculator(DefaultPrecision), logger.NewNop())
	userID := uuid.New()

	post(t, store, svc, userID, "USDT", func(b *EntryBuilder, w *entities.Wallet) {
		b.AddIn(w, decimal.NewFromInt(100), entities.EntryTypeDeposit, "deposit")
	})
	cutoff := time.Now().UTC()
	time.Sleep(2 * time.Millisecond)
	post(t, store, svc, userID, "USDT", func(b *EntryBuilder, w *entities.Wallet) {
		b.AddOut(w, decimal.NewFromInt(40), entities.EntryTypeWithdraw, "withdraw")
	})

	err := store.View(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
		wallet, err := tx.Wallets().GetByUserToken(ctx, userID, "USDT")
		require.NoError(t, err)

		then, err := svc.Calculator().BalanceAt(ctx, tx.Entries(), wallet.ID, cutoff)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(100).Equal(then.Available))

		now, err := svc.Calculator().Balance(ctx, tx.Entries(), wallet.ID)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(60).Equal(now.Available))
		return nil
	})
	require.NoError(t, err)
}

func TestCalculator_DueBalance(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(NewCalculator(DefaultPrecision), logger.NewNop())
	userID := uuid.New()

	post(t, store, svc, userID, "USDT", func(b *EntryBuilder, w *entities.Wallet) {
		b.AddOut(w, decimal.NewFromInt(5), entities.EntryTypeDueCharge, "charge")
	})
	post(t, store, svc, userID, "USDT", func(b *EntryBuilder, w *entities.Wallet) {
		b.AddIn(w, decimal.NewFromInt(2), entities.EntryTypeDueSettlement, "settle")
	})

	err := store.View(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
		wallet, err := tx.Wallets().GetByUserToken(ctx, userID, "USDT")
		require.NoError(t, err)
		due, err := svc.Calculator().DueBalance(ctx, tx.Entries(), wallet.ID)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(3).Equal(due))
		return nil
	})
	require.NoError(t, err)
}

type brokenEntries struct {
	repositories.EntryRepository
}

func (brokenEntries) Aggregate(ctx context.Context, filter entities.BalanceFilter) (*entities.EntryTotals, error) {
	return nil, errors.New("connection reset")
}

func TestCalculator_AggregationFailureIsNotZero(t *testing.T) {
	_, err := NewCalculator(0).Balance(context.Background(), brokenEntries{}, uuid.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrBalanceUnavailable))
	assert.Equal(t, domainerrors.KindTransient, domainerrors.KindOf(err))
}

func TestEntryBuilder(t *testing.T) {
	from := entities.NewWallet(uuid.New(), "USDT")
	to := entities.NewWallet(uuid.New(), "USDT")
	movementID := uuid.New()

	entries, err := NewEntryBuilder(movementID, "TR000001", entities.MovementKindTransfer).
		AddOut(from, decimal.NewFromInt(10), entities.EntryTypeTransfer, "sent").
		AddIn(to, decimal.NewFromInt(10), entities.EntryTypeTransfer, "received").
		WithMetadata("sender_id", from.UserID.String()).
		Build()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, []string{entries[1].ID.String()}, entries[0].Metadata[MetaLinkedEntryIDs])
	assert.Equal(t, []string{entries[0].ID.String()}, entries[1].Metadata[MetaLinkedEntryIDs])
	assert.Equal(t, "TR000001", entries[0].Metadata[MetaRequestID])
	assert.Equal(t, movementID, *entries[1].MovementID)
	assert.Equal(t, from.UserID.String(), entries[1].Metadata["sender_id"])
	assert.True(t, entries[0].Signed().IsNegative())

	_, err = NewEntryBuilder(movementID, "TR000002", entities.MovementKindTransfer).Build()
	assert.Error(t, err)

	_, err = NewEntryBuilder(movementID, "TR000003", entities.MovementKindTransfer).
		AddOut(from, decimal.Zero, entities.EntryTypeTransfer, "nothing").
		Build()
	assert.Error(t, err)
}

func TestService_SoftDeletedWalletIsReplaced(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(NewCalculator(DefaultPrecision), logger.NewNop())
	userID := uuid.New()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
		wallet, err := svc.ResolveWallet(ctx, tx, userID, "USDT")
		require.NoError(t, err)
		require.NoError(t, svc.SoftDeleteWallet(ctx, tx, wallet.ID))

		// a deleted wallet frees the pair, the next resolve creates a fresh one
		fresh, err := svc.ResolveWallet(ctx, tx, userID, "USDT")
		require.NoError(t, err)
		assert.NotEqual(t, wallet.ID, fresh.ID)
		return nil
	})
	require.NoError(t, err)
}
