package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
)

// LedgerStore opens units of work over the ledger. Every write of a movement
// happens inside one WithinTx call; nothing is visible to other callers
// until fn returns nil.
type LedgerStore interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
	View(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
}

// LedgerTx exposes the repositories bound to one unit of work
type LedgerTx interface {
	Wallets() WalletRepository
	Entries() EntryRepository
	Movements() MovementRepository
	DueOffsets() DueOffsetRepository
}

// WalletRepository defines wallet persistence
type WalletRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Wallet, error)
	GetByUserToken(ctx context.Context, userID uuid.UUID, token string) (*entities.Wallet, error)
	// GetOrCreate returns the live wallet for the pair, creating it on first use.
	GetOrCreate(ctx context.Context, userID uuid.UUID, token string) (*entities.Wallet, error)
	// LockForUpdate blocks concurrent writers of the wallet until the unit of work ends.
	LockForUpdate(ctx context.Context, id uuid.UUID) (*entities.Wallet, error)
	AdjustCachedBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error
	SetCachedBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	ListActive(ctx context.Context, limit, offset int) ([]*entities.Wallet, error)
}

// EntryRepository defines append-only ledger entry persistence
type EntryRepository interface {
	Create(ctx context.Context, entry *entities.LedgerEntry) error
	// Aggregate sums non-deleted entries of one wallet.
	Aggregate(ctx context.Context, filter entities.BalanceFilter) (*entities.EntryTotals, error)
	ListByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*entities.LedgerEntry, error)
	ListByMovement(ctx context.Context, movementID uuid.UUID) ([]*entities.LedgerEntry, error)
}

// MovementRepository defines movement record persistence. Status and
// metadata are the only fields changed after creation.
type MovementRepository interface {
	Create(ctx context.Context, movement *entities.MovementRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.MovementRecord, error)
	GetByRequestID(ctx context.Context, requestID string) (*entities.MovementRecord, error)
	GetByRequestIDForUpdate(ctx context.Context, requestID string) (*entities.MovementRecord, error)
	GetByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*entities.MovementRecord, error)
	ExistsByExternalHash(ctx context.Context, hash string) (bool, error)
	// UpdateStatus writes movement.Status and Metadata only if the stored status still equals from.
	UpdateStatus(ctx context.Context, movement *entities.MovementRecord, from entities.MovementStatus) error
}

// DueOffsetRepository defines due offset persistence
type DueOffsetRepository interface {
	Create(ctx context.Context, record *entities.DueOffsetRecord) error
	GetByMovementID(ctx context.Context, movementID uuid.UUID) (*entities.DueOffsetRecord, error)
	// MarkReverted persists the revert only if the record was not reverted yet.
	MarkReverted(ctx context.Context, record *entities.DueOffsetRecord) error
}

// SequenceRepository issues serials outside of any ledger unit of work
type SequenceRepository interface {
	Next(ctx context.Context, family entities.SequenceFamily) (int64, error)
}

// AddressRepository maps external identities (deposit address or blockchain id) to users
type AddressRepository interface {
	ResolveUser(ctx context.Context, identity string) (uuid.UUID, error)
}

// AddressRegistry is an AddressRepository that can also bind identities
type AddressRegistry interface {
	AddressRepository
	Register(ctx context.Context, identity string, userID uuid.UUID) error
}
