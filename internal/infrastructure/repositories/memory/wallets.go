package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
)

type walletRepo struct {
	state *state
}

func (r *walletRepo) GetByID(ctx context.Context, id uuid.UUID) (*entities.Wallet, error) {
	w, ok := r.state.wallets[id]
	if !ok {
		return nil, domainerrors.NotFoundError("WALLET", domainerrors.ErrWalletNotFound)
	}
	copied := *w
	return &copied, nil
}

func (r *walletRepo) GetByUserToken(ctx context.Context, userID uuid.UUID, token string) (*entities.Wallet, error) {
	for _, id := range r.state.walletOrder {
		w := r.state.wallets[id]
		if w.UserID == userID && w.Token == token && !w.IsDeleted() {
			copied := *w
			return &copied, nil
		}
	}
	return nil, domainerrors.NotFoundError("WALLET", domainerrors.ErrWalletNotFound)
}

func (r *walletRepo) GetOrCreate(ctx context.Context, userID uuid.UUID, token string) (*entities.Wallet, error) {
	w, err := r.GetByUserToken(ctx, userID, token)
	if err == nil {
		return w, nil
	}
	if !domainerrors.IsNotFound(err) {
		return nil, err
	}
	created := entities.NewWallet(userID, token)
	r.state.wallets[created.ID] = created
	r.state.walletOrder = append(r.state.walletOrder, created.ID)
	copied := *created
	return &copied, nil
}

// LockForUpdate only checks existence: units of work are already serialized.
func (r *walletRepo) LockForUpdate(ctx context.Context, id uuid.UUID) (*entities.Wallet, error) {
	return r.GetByID(ctx, id)
}

func (r *walletRepo) AdjustCachedBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	return r.update(id, func(w *entities.Wallet) {
		w.CachedBalance = w.CachedBalance.Add(delta)
	})
}

func (r *walletRepo) SetCachedBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	return r.update(id, func(w *entities.Wallet) {
		w.CachedBalance = balance
	})
}

func (r *walletRepo) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return r.update(id, func(w *entities.Wallet) {
		now := time.Now().UTC()
		w.DeletedAt = &now
	})
}

func (r *walletRepo) ListActive(ctx context.Context, limit, offset int) ([]*entities.Wallet, error) {
	live := make([]*entities.Wallet, 0, len(r.state.walletOrder))
	for _, id := range r.state.walletOrder {
		if w := r.state.wallets[id]; !w.IsDeleted() {
			copied := *w
			live = append(live, &copied)
		}
	}
	sort.SliceStable(live, func(i, j int) bool { return live[i].CreatedAt.Before(live[j].CreatedAt) })
	if offset >= len(live) {
		return []*entities.Wallet{}, nil
	}
	end := len(live)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return live[offset:end], nil
}

func (r *walletRepo) update(id uuid.UUID, mutate func(w *entities.Wallet)) error {
	w, ok := r.state.wallets[id]
	if !ok {
		return domainerrors.NotFoundError("WALLET", domainerrors.ErrWalletNotFound)
	}
	copied := *w
	mutate(&copied)
	copied.UpdatedAt = time.Now().UTC()
	r.state.wallets[id] = &copied
	return nil
}
