package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	domainerrors "github.com/rail-service/wallet_ledger/internal/domain/errors"
	domainrepos "github.com/rail-service/wallet_ledger/internal/domain/repositories"
	"github.com/rail-service/wallet_ledger/internal/infrastructure/database"
)

const (
	uniqueViolation = "23505"

	externalHashIndex = "idx_movement_records_external_hash"
)

// PostgresStore implements domainrepos.LedgerStore on PostgreSQL. Each unit of
// work is one read-committed transaction; row locks are taken with FOR UPDATE.
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

var _ domainrepos.LedgerStore = (*PostgresStore)(nil)

// NewPostgresStore creates a new ledger store
func NewPostgresStore(db *sqlx.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// WithinTx runs fn in a read-write transaction
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domainrepos.LedgerTx) error) error {
	return database.WithTransaction(ctx, s.db, false, func(tx *sqlx.Tx) error {
		return fn(ctx, newLedgerTx(tx, s.logger))
	})
}

// View runs fn in a read-only transaction
func (s *PostgresStore) View(ctx context.Context, fn func(ctx context.Context, tx domainrepos.LedgerTx) error) error {
	return database.WithTransaction(ctx, s.db, true, func(tx *sqlx.Tx) error {
		return fn(ctx, newLedgerTx(tx, s.logger))
	})
}

type ledgerTx struct {
	wallets    *WalletRepository
	entries    *EntryRepository
	movements  *MovementRepository
	dueOffsets *DueOffsetRepository
}

func newLedgerTx(tx *sqlx.Tx, logger *zap.Logger) *ledgerTx {
	return &ledgerTx{
		wallets:    &WalletRepository{tx: tx, logger: logger},
		entries:    &EntryRepository{tx: tx},
		movements:  &MovementRepository{tx: tx},
		dueOffsets: &DueOffsetRepository{tx: tx},
	}
}

func (t *ledgerTx) Wallets() domainrepos.WalletRepository       { return t.wallets }
func (t *ledgerTx) Entries() domainrepos.EntryRepository        { return t.entries }
func (t *ledgerTx) Movements() domainrepos.MovementRepository   { return t.movements }
func (t *ledgerTx) DueOffsets() domainrepos.DueOffsetRepository { return t.dueOffsets }

// uniqueConstraint returns the violated constraint name for unique violations
func uniqueConstraint(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

func notFound(err error, resource string, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domainerrors.NotFoundError(resource, sentinel)
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
