// Package storage defines the persistence boundaries of the bot. The core
// engines stay memory-resident; these sinks exist for after-the-fact
// analysis and are always best-effort.
package storage

import (
	"context"

	"github.com/newben420/kolt/internal/domain"
)

// PositionJournal persists final snapshots of closed copy positions.
type PositionJournal interface {
	// Insert appends a closed position. Returns ErrDuplicateKey if a
	// record for the same (mint, closed_at_ms) already exists.
	Insert(ctx context.Context, p *domain.ClosedPosition) error

	// GetByTrader retrieves closed positions copied from the given
	// trader, ordered by close time ASC.
	GetByTrader(ctx context.Context, trader string) ([]*domain.ClosedPosition, error)

	// GetAll retrieves every closed position, ordered by close time ASC.
	GetAll(ctx context.Context) ([]*domain.ClosedPosition, error)
}

// EventArchive sinks raw normalized trade events for offline replay.
type EventArchive interface {
	// InsertBulk appends a batch of trade events.
	InsertBulk(ctx context.Context, events []*domain.TradeEvent) error
}
