package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet holds one token for one user. CachedBalance is a denormalized copy of
// the ledger replay and is never authoritative.
type Wallet struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	UserID        uuid.UUID       `json:"user_id" db:"user_id"`
	Token         string          `json:"token" db:"token"`
	CachedBalance decimal.Decimal `json:"cached_balance" db:"cached_balance"`
	DeletedAt     *time.Time      `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// NewWallet creates a live wallet for a (user, token) pair
func NewWallet(userID uuid.UUID, token string) *Wallet {
	now := time.Now().UTC()
	return &Wallet{
		ID:            uuid.New(),
		UserID:        userID,
		Token:         token,
		CachedBalance: decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsDeleted reports whether the wallet was soft-deleted
func (w *Wallet) IsDeleted() bool {
	return w.DeletedAt != nil
}

// Balance is the replayed state of a wallet
type Balance struct {
	WalletID    uuid.UUID       `json:"wallet_id"`
	Available   decimal.Decimal `json:"available"`
	TotalStaked decimal.Decimal `json:"total_staked"`
}

// EntryTotals are the raw aggregates a balance is derived from
type EntryTotals struct {
	TotalIn     decimal.Decimal `db:"total_in"`
	TotalOut    decimal.Decimal `db:"total_out"`
	TotalStaked decimal.Decimal `db:"total_staked"`
	EntryCount  int64           `db:"entry_count"`
}

// BalanceFilter narrows an aggregation. A nil AsOf means "now".
type BalanceFilter struct {
	WalletID uuid.UUID
	AsOf     *time.Time
}
