package clickhouse

import (
	"context"
	"fmt"

	"github.com/newben420/kolt/internal/domain"
	"github.com/newben420/kolt/internal/storage"
)

// EventArchiveStore implements storage.EventArchive using ClickHouse.
// The archive is append-only; MergeTree does not enforce uniqueness and
// the feed may redeliver events after a reconnect, so duplicates are
// tolerated and deduplicated at query time.
type EventArchiveStore struct {
	conn *Conn
}

// NewEventArchiveStore creates a new EventArchiveStore.
func NewEventArchiveStore(conn *Conn) *EventArchiveStore {
	return &EventArchiveStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventArchive = (*EventArchiveStore)(nil)

// InsertBulk appends a batch of trade events.
func (s *EventArchiveStore) InsertBulk(ctx context.Context, events []*domain.TradeEvent) error {
	if len(events) == 0 {
		return nil
	}

	for _, ev := range events {
		if ev == nil || ev.Mint == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO trade_events (
			trader, mint, side, sol_amount, token_amount, price_sol,
			market_cap_sol, venue, pool_address, signature, latency_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, ev := range events {
		err = batch.Append(
			ev.Trader, ev.Mint, ev.Side, ev.SolAmount, ev.TokenAmount,
			ev.PriceSol, ev.MarketCapSol, ev.Venue, ev.PoolAddress,
			ev.Signature, ev.LatencyMs,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// CountByMint returns how many events are archived for the given mint.
func (s *EventArchiveStore) CountByMint(ctx context.Context, mint string) (int, error) {
	query := `SELECT count(*) FROM trade_events WHERE mint = ?`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, mint).Scan(&count); err != nil {
		return 0, fmt.Errorf("count events by mint: %w", err)
	}
	return int(count), nil
}
