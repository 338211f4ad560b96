package memory

import (
	"context"
	"sync"

	"github.com/rail-service/wallet_ledger/internal/domain/entities"
)

// Sequence is a process-local counter per family
type Sequence struct {
	mu       sync.Mutex
	counters map[entities.SequenceFamily]int64
}

// NewSequence creates counters starting at zero
func NewSequence() *Sequence {
	return &Sequence{counters: make(map[entities.SequenceFamily]int64)}
}

// Next increments and returns the family's counter
func (s *Sequence) Next(ctx context.Context, family entities.SequenceFamily) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[family]++
	return s.counters[family], nil
}
