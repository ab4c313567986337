package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/newben420/kolt/internal/domain"
	"github.com/newben420/kolt/internal/storage"
)

// PositionJournal is an in-memory implementation of storage.PositionJournal.
type PositionJournal struct {
	mu   sync.RWMutex
	data map[string]*domain.ClosedPosition // keyed by composite key
}

// NewPositionJournal creates a new in-memory position journal.
func NewPositionJournal() *PositionJournal {
	return &PositionJournal{
		data: make(map[string]*domain.ClosedPosition),
	}
}

// positionKey generates a unique key for a closed position.
func positionKey(mint string, closedAtMs int64) string {
	return fmt.Sprintf("%s|%d", mint, closedAtMs)
}

// Insert appends a closed position. Returns ErrDuplicateKey if exists.
func (j *PositionJournal) Insert(_ context.Context, p *domain.ClosedPosition) error {
	if p == nil || p.Mint == "" {
		return storage.ErrInvalidInput
	}

	key := positionKey(p.Mint, p.ClosedAtMs)

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, exists := j.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *p
	j.data[key] = &copy
	return nil
}

// GetByTrader retrieves closed positions copied from the given trader,
// ordered by close time ASC.
func (j *PositionJournal) GetByTrader(_ context.Context, trader string) ([]*domain.ClosedPosition, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var result []*domain.ClosedPosition
	for _, p := range j.data {
		if p.CopiedFrom == trader {
			copy := *p
			result = append(result, &copy)
		}
	}

	sortByCloseTime(result)
	return result, nil
}

// GetAll retrieves every closed position, ordered by close time ASC.
func (j *PositionJournal) GetAll(_ context.Context) ([]*domain.ClosedPosition, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	result := make([]*domain.ClosedPosition, 0, len(j.data))
	for _, p := range j.data {
		copy := *p
		result = append(result, &copy)
	}

	sortByCloseTime(result)
	return result, nil
}

func sortByCloseTime(positions []*domain.ClosedPosition) {
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].ClosedAtMs != positions[j].ClosedAtMs {
			return positions[i].ClosedAtMs < positions[j].ClosedAtMs
		}
		return positions[i].Mint < positions[j].Mint
	})
}

var _ storage.PositionJournal = (*PositionJournal)(nil)
