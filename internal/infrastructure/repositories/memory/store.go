// Package memory is an in-process LedgerStore. A unit of work runs on a
// copy of the state that replaces the committed state only when fn
// succeeds, so aborted movements leave nothing behind.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	"github.com/rail-service/wallet_ledger/internal/domain/repositories"
)

type state struct {
	wallets     map[uuid.UUID]*entities.Wallet
	walletOrder []uuid.UUID
	entries     []*entities.LedgerEntry
	movements   map[uuid.UUID]*entities.MovementRecord
	requestIDs  map[string]uuid.UUID
	hashes      map[string]uuid.UUID
	idempotency map[string]uuid.UUID
	dueOffsets  map[uuid.UUID]*entities.DueOffsetRecord
}

func newState() *state {
	return &state{
		wallets:     make(map[uuid.UUID]*entities.Wallet),
		movements:   make(map[uuid.UUID]*entities.MovementRecord),
		requestIDs:  make(map[string]uuid.UUID),
		hashes:      make(map[string]uuid.UUID),
		idempotency: make(map[string]uuid.UUID),
		dueOffsets:  make(map[uuid.UUID]*entities.DueOffsetRecord),
	}
}

// clone copies the indexes. Stored values are replaced, never mutated in
// place, so sharing the pointers is safe.
func (s *state) clone() *state {
	c := &state{
		wallets:     make(map[uuid.UUID]*entities.Wallet, len(s.wallets)),
		walletOrder: append([]uuid.UUID(nil), s.walletOrder...),
		entries:     append([]*entities.LedgerEntry(nil), s.entries...),
		movements:   make(map[uuid.UUID]*entities.MovementRecord, len(s.movements)),
		requestIDs:  make(map[string]uuid.UUID, len(s.requestIDs)),
		hashes:      make(map[string]uuid.UUID, len(s.hashes)),
		idempotency: make(map[string]uuid.UUID, len(s.idempotency)),
		dueOffsets:  make(map[uuid.UUID]*entities.DueOffsetRecord, len(s.dueOffsets)),
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.movements {
		c.movements[k] = v
	}
	for k, v := range s.requestIDs {
		c.requestIDs[k] = v
	}
	for k, v := range s.hashes {
		c.hashes[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range s.dueOffsets {
		c.dueOffsets[k] = v
	}
	return c
}

// Store serializes units of work behind one mutex
type Store struct {
	mu    sync.Mutex
	state *state
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{state: newState()}
}

// WithinTx runs fn on a private copy and commits it if fn returns nil
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repositories.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(ctx, &tx{state: working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

// View runs fn on a snapshot that is discarded afterwards
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx repositories.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, &tx{state: s.state.clone()})
}

type tx struct {
	state *state
}

func (t *tx) Wallets() repositories.WalletRepository       { return &walletRepo{state: t.state} }
func (t *tx) Entries() repositories.EntryRepository        { return &entryRepo{state: t.state} }
func (t *tx) Movements() repositories.MovementRepository   { return &movementRepo{state: t.state} }
func (t *tx) DueOffsets() repositories.DueOffsetRepository { return &dueOffsetRepo{state: t.state} }

var _ repositories.LedgerStore = (*Store)(nil)
