package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
)

// Metadata keys shared by every entry producer
const (
	MetaLinkedEntryIDs = "linked_entry_ids"
	MetaRequestID      = "request_id"
	MetaMovementKind   = "movement_kind"
	MetaPriceUSD       = "price_usd"
)

// EntryBuilder assembles the ledger entries of one movement. Entries built
// together reference each other through MetaLinkedEntryIDs.
type EntryBuilder struct {
	movementID uuid.UUID
	requestID  string
	kind       entities.MovementKind
	entries    []*entities.LedgerEntry
}

// NewEntryBuilder creates a builder for the movement identified by movementID
func NewEntryBuilder(movementID uuid.UUID, requestID string, kind entities.MovementKind) *EntryBuilder {
	return &EntryBuilder{
		movementID: movementID,
		requestID:  requestID,
		kind:       kind,
		entries:    make([]*entities.LedgerEntry, 0, 2),
	}
}

// AddOut debits the wallet
func (b *EntryBuilder) AddOut(wallet *entities.Wallet, amount decimal.Decimal, entryType entities.EntryType, note string) *EntryBuilder {
	return b.add(wallet, entities.DirectionOut, amount, entryType, note)
}

// AddIn credits the wallet
func (b *EntryBuilder) AddIn(wallet *entities.Wallet, amount decimal.Decimal, entryType entities.EntryType, note string) *EntryBuilder {
	return b.add(wallet, entities.DirectionIn, amount, entryType, note)
}

// WithMetadata sets a key on the most recently added entry
func (b *EntryBuilder) WithMetadata(key string, value interface{}) *EntryBuilder {
	if len(b.entries) == 0 {
		return b
	}
	b.entries[len(b.entries)-1].Metadata[key] = value
	return b
}

func (b *EntryBuilder) add(wallet *entities.Wallet, direction entities.EntryDirection, amount decimal.Decimal, entryType entities.EntryType, note string) *EntryBuilder {
	movementID := b.movementID
	b.entries = append(b.entries, &entities.LedgerEntry{
		ID:         uuid.New(),
		WalletID:   wallet.ID,
		UserID:     wallet.UserID,
		MovementID: &movementID,
		Direction:  direction,
		Amount:     amount,
		Type:       entryType,
		Note:       note,
		Metadata: map[string]interface{}{
			MetaRequestID:    b.requestID,
			MetaMovementKind: b.kind.String(),
			"token":          wallet.Token,
		},
		CreatedAt: time.Now().UTC(),
	})
	return b
}

// Build links the entries to each other and returns them
func (b *EntryBuilder) Build() ([]*entities.LedgerEntry, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if len(b.entries) > 1 {
		for _, entry := range b.entries {
			linked := make([]string, 0, len(b.entries)-1)
			for _, other := range b.entries {
				if other.ID != entry.ID {
					linked = append(linked, other.ID.String())
				}
			}
			entry.Metadata[MetaLinkedEntryIDs] = linked
		}
	}
	return b.entries, nil
}

// Validate ensures every entry is well formed
func (b *EntryBuilder) Validate() error {
	if len(b.entries) == 0 {
		return fmt.Errorf("movement must have at least 1 entry")
	}
	for _, entry := range b.entries {
		if err := entry.Validate(); err != nil {
			return fmt.Errorf("invalid entry: %w", err)
		}
		if !entry.Amount.IsPositive() {
			return fmt.Errorf("entry amount must be positive")
		}
	}
	return nil
}

// EntryIDs returns the ids of the given entries in order
func EntryIDs(entries []*entities.LedgerEntry) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}
