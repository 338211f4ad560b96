package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
)

// Addresses maps deposit addresses and blockchain ids to users
type Addresses struct {
	mu         sync.RWMutex
	identities map[string]uuid.UUID
}

// NewAddresses creates an empty address book
func NewAddresses() *Addresses {
	return &Addresses{identities: make(map[string]uuid.UUID)}
}

// Register binds an identity to a user
func (a *Addresses) Register(ctx context.Context, identity string, userID uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.identities[strings.ToLower(identity)] = userID
	return nil
}

// ResolveUser returns the user bound to identity
func (a *Addresses) ResolveUser(ctx context.Context, identity string) (uuid.UUID, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	userID, ok := a.identities[strings.ToLower(identity)]
	if !ok {
		return uuid.Nil, domainerrors.NotFoundError("DEPOSIT_ADDRESS", nil)
	}
	return userID, nil
}
