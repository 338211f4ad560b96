package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
	domainrepos "github.com/rail-service/wallet_ledger/internal/domain/repositories"
)

// PostgresSequence issues serials from a postgres counter row per family.
// It runs on the pool, never inside a ledger transaction, so an aborted
// movement leaves a gap.
type PostgresSequence struct {
	db *sqlx.DB
}

var _ domainrepos.SequenceRepository = (*PostgresSequence)(nil)

// NewPostgresSequence creates a postgres-backed sequence
func NewPostgresSequence(db *sqlx.DB) *PostgresSequence {
	return &PostgresSequence{db: db}
}

// Next atomically increments and returns the family counter
func (r *PostgresSequence) Next(ctx context.Context, family entities.SequenceFamily) (int64, error) {
	query := `
		INSERT INTO sequence_counters (family, value, updated_at)
		VALUES ($1, 1, NOW())
		ON CONFLICT (family) DO UPDATE
		SET value = sequence_counters.value + 1, updated_at = NOW()
		RETURNING value`

	var next int64
	if err := r.db.GetContext(ctx, &next, query, string(family)); err != nil {
		return 0, fmt.Errorf("next %s serial: %w", family, err)
	}
	return next, nil
}

// RedisSequence issues serials with INCR on one key per family
type RedisSequence struct {
	client redis.Cmdable
	prefix string
}

var _ domainrepos.SequenceRepository = (*RedisSequence)(nil)

// NewRedisSequence creates a redis-backed sequence. Keys are prefix + family.
func NewRedisSequence(client redis.Cmdable, prefix string) *RedisSequence {
	if prefix == "" {
		prefix = "wallet_ledger:sequence:"
	}
	return &RedisSequence{client: client, prefix: prefix}
}

// Next atomically increments and returns the family counter
func (s *RedisSequence) Next(ctx context.Context, family entities.SequenceFamily) (int64, error) {
	next, err := s.client.Incr(ctx, s.prefix+string(family)).Result()
	if err != nil {
		return 0, fmt.Errorf("next %s serial: %w", family, err)
	}
	return next, nil
}
