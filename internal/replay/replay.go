// Package replay feeds recorded trade events through the ledger and the
// copy engine in simulation mode. Input is one JSON object per line in
// the same shape the live feed delivers, so an archived session can be
// replayed to evaluate rule configurations offline.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/newben420/kolt/internal/copier"
	"github.com/newben420/kolt/internal/domain"
	"github.com/newben420/kolt/internal/ledger"
)

// Config holds the replay tunables.
type Config struct {
	// AutoRegister adds every trader to the ledger on first sight, so a
	// raw firehose dump can be replayed without a seeding step.
	AutoRegister bool
}

// Summary reports what a replay run did.
type Summary struct {
	EventsReplayed  int     `json:"events_replayed"`
	LinesSkipped    int     `json:"lines_skipped"`
	PositionsOpened int     `json:"positions_opened"`
	PositionsClosed int     `json:"positions_closed"`
	RealizedPnLSol  float64 `json:"realized_pnl_sol"`
}

// Runner replays recorded events in file order.
type Runner struct {
	cfg    Config
	ledger *ledger.Ledger
	engine *copier.Engine
	logger *log.Logger
}

// NewRunner creates a replay runner. The engine is expected to be in
// simulation mode; a live engine would submit real orders.
func NewRunner(cfg Config, l *ledger.Ledger, engine *copier.Engine, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(log.Writer(), "[replay] ", log.LstdFlags)
	}
	return &Runner{cfg: cfg, ledger: l, engine: engine, logger: logger}
}

// record is one feed-shaped event line.
type record struct {
	TxType          string  `json:"txType"`
	TraderPublicKey string  `json:"traderPublicKey"`
	Mint            string  `json:"mint"`
	SolAmount       float64 `json:"solAmount"`
	TokenAmount     float64 `json:"tokenAmount"`
	PriceSol        float64 `json:"priceSol"`
	MarketCapSol    float64 `json:"marketCapSol"`
	Pool            string  `json:"pool"`
	PoolAddress     string  `json:"poolAddress"`
	Signature       string  `json:"signature"`
}

// Run replays every line of r. Malformed or non-trade lines are counted
// and skipped; replay order is file order.
func (r *Runner) Run(ctx context.Context, input io.Reader) (Summary, error) {
	var sum Summary

	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			r.logger.Printf("line %d: skip malformed record: %v", lineNo, err)
			sum.LinesSkipped++
			continue
		}
		if (rec.TxType != domain.SideBuy && rec.TxType != domain.SideSell) ||
			rec.Mint == "" || rec.TraderPublicKey == "" {
			sum.LinesSkipped++
			continue
		}

		r.apply(ctx, &rec)
		sum.EventsReplayed++
	}
	if err := scanner.Err(); err != nil {
		return sum, fmt.Errorf("read replay input: %w", err)
	}

	stats := r.engine.Stats()
	sum.PositionsOpened = stats.TotalOpened
	sum.PositionsClosed = stats.TotalClosed
	sum.RealizedPnLSol = stats.TotalRealizedSol
	return sum, nil
}

// apply routes one event the same way the live sink does: accounting
// first, then mark-to-market and exits, then entry consideration.
func (r *Runner) apply(ctx context.Context, rec *record) {
	ev := &domain.TradeEvent{
		Trader:       rec.TraderPublicKey,
		Mint:         rec.Mint,
		Side:         rec.TxType,
		SolAmount:    rec.SolAmount,
		TokenAmount:  rec.TokenAmount,
		PriceSol:     rec.PriceSol,
		MarketCapSol: rec.MarketCapSol,
		Venue:        rec.Pool,
		PoolAddress:  rec.PoolAddress,
		Signature:    rec.Signature,
	}
	if ev.PriceSol == 0 && ev.TokenAmount > 0 {
		ev.PriceSol = ev.SolAmount / ev.TokenAmount
	}

	if r.cfg.AutoRegister {
		r.ledger.NewTrader(ev.Trader)
	}
	r.ledger.RecordTrade(ev)
	r.engine.OnMarketEvent(ctx, ev)

	if ev.Side == domain.SideBuy && r.ledger.TraderExists(ev.Trader) {
		r.engine.TryEnterCopy(ctx, ev.Trader, ev.Mint, ev.SolAmount, ev.PriceSol, ev.MarketCapSol, ev.Venue)
	}
}
