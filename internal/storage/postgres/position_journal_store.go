package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/newben420/kolt/internal/domain"
	"github.com/newben420/kolt/internal/storage"
)

// PositionJournalStore implements storage.PositionJournal using PostgreSQL.
type PositionJournalStore struct {
	pool *Pool
}

// NewPositionJournalStore creates a new PositionJournalStore.
func NewPositionJournalStore(pool *Pool) *PositionJournalStore {
	return &PositionJournalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionJournal = (*PositionJournalStore)(nil)

const closedPositionColumns = `
	mint, copied_from, venue, buy_capital, returns_sol, pnl_perc,
	peak_pnl_perc, least_pnl_perc, sells, sell_reasons, duration_ms,
	buy_latency_ms, avg_sell_lat_ms, final_price, final_mkt_cap, closed_at_ms
`

// Insert appends a closed position. Returns ErrDuplicateKey if
// (mint, closed_at_ms) exists.
func (s *PositionJournalStore) Insert(ctx context.Context, p *domain.ClosedPosition) error {
	if p == nil || p.Mint == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO closed_positions (` + closedPositionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := s.pool.Exec(ctx, query,
		p.Mint,
		p.CopiedFrom,
		p.Venue,
		p.BuyCapital,
		p.ReturnsSol,
		p.PnLPerc,
		p.PeakPnLPerc,
		p.LeastPnLPerc,
		p.Sells,
		p.SellReasons,
		p.DurationMs,
		p.BuyLatencyMs,
		p.AvgSellLatMs,
		p.FinalPrice,
		p.FinalMktCap,
		p.ClosedAtMs,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert closed position: %w", err)
	}
	return nil
}

// GetByTrader retrieves closed positions copied from the given trader,
// ordered by close time ASC.
func (s *PositionJournalStore) GetByTrader(ctx context.Context, trader string) ([]*domain.ClosedPosition, error) {
	query := `
		SELECT ` + closedPositionColumns + `
		FROM closed_positions
		WHERE copied_from = $1
		ORDER BY closed_at_ms ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, trader)
	if err != nil {
		return nil, fmt.Errorf("get closed positions by trader: %w", err)
	}
	defer rows.Close()

	return scanClosedPositions(rows)
}

// GetAll retrieves every closed position, ordered by close time ASC.
func (s *PositionJournalStore) GetAll(ctx context.Context) ([]*domain.ClosedPosition, error) {
	query := `
		SELECT ` + closedPositionColumns + `
		FROM closed_positions
		ORDER BY closed_at_ms ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all closed positions: %w", err)
	}
	defer rows.Close()

	return scanClosedPositions(rows)
}

// scanClosedPositions scans multiple rows into a slice of ClosedPosition.
func scanClosedPositions(rows pgx.Rows) ([]*domain.ClosedPosition, error) {
	var positions []*domain.ClosedPosition

	for rows.Next() {
		var p domain.ClosedPosition

		err := rows.Scan(
			&p.Mint,
			&p.CopiedFrom,
			&p.Venue,
			&p.BuyCapital,
			&p.ReturnsSol,
			&p.PnLPerc,
			&p.PeakPnLPerc,
			&p.LeastPnLPerc,
			&p.Sells,
			&p.SellReasons,
			&p.DurationMs,
			&p.BuyLatencyMs,
			&p.AvgSellLatMs,
			&p.FinalPrice,
			&p.FinalMktCap,
			&p.ClosedAtMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan closed position row: %w", err)
		}

		positions = append(positions, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate closed position rows: %w", err)
	}

	return positions, nil
}
