package memory

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
)

type entryRepo struct {
	state *state
}

func (r *entryRepo) Create(ctx context.Context, entry *entities.LedgerEntry) error {
	if _, ok := r.state.wallets[entry.WalletID]; !ok {
		return domainerrors.NotFoundError("WALLET", domainerrors.ErrWalletNotFound)
	}
	copied := *entry
	r.state.entries = append(r.state.entries, &copied)
	return nil
}

func (r *entryRepo) Aggregate(ctx context.Context, filter entities.BalanceFilter) (*entities.EntryTotals, error) {
	totals := &entities.EntryTotals{TotalIn: decimal.Zero, TotalOut: decimal.Zero, TotalStaked: decimal.Zero}
	for _, e := range r.state.entries {
		if e.WalletID != filter.WalletID || e.DeletedAt != nil {
			continue
		}
		if filter.AsOf != nil && e.CreatedAt.After(*filter.AsOf) {
			continue
		}
		totals.EntryCount++
		if e.Direction == entities.DirectionIn {
			totals.TotalIn = totals.TotalIn.Add(e.Amount)
			continue
		}
		totals.TotalOut = totals.TotalOut.Add(e.Amount)
		if e.Type == entities.EntryTypeStake {
			totals.TotalStaked = totals.TotalStaked.Add(e.Amount)
		}
	}
	return totals, nil
}

func (r *entryRepo) ListByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*entities.LedgerEntry, error) {
	var matched []*entities.LedgerEntry
	for i := len(r.state.entries) - 1; i >= 0; i-- {
		if e := r.state.entries[i]; e.WalletID == walletID {
			matched = append(matched, e)
		}
	}
	if offset >= len(matched) {
		return []*entities.LedgerEntry{}, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return matched[offset:end], nil
}

func (r *entryRepo) ListByMovement(ctx context.Context, movementID uuid.UUID) ([]*entities.LedgerEntry, error) {
	var matched []*entities.LedgerEntry
	for _, e := range r.state.entries {
		if e.MovementID != nil && *e.MovementID == movementID {
			matched = append(matched, e)
		}
	}
	return matched, nil
}
