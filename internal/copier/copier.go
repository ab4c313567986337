// Package copier is the copy-trade decision engine. It mirrors first-time
// buys of monitored traders with the bot's own capital, manages the
// resulting position through partial exits, and keeps a leaderboard of
// which source traders have been worth copying.
package copier

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/newben420/kolt/internal/domain"
	"github.com/newben420/kolt/internal/storage"
)

// Ledger is the narrow trader-ledger query surface the engine consumes.
type Ledger interface {
	// BuyCountFor returns how many buys the ledger has seen for the
	// trader on the given market.
	BuyCountFor(trader, mint string) int
}

// Orders builds, signs and submits live orders. amount is either a SOL
// value for buys (e.g. "0.5") or a percentage of held tokens for sells
// (e.g. "35%"); the execution venue resolves percentages itself.
type Orders interface {
	Submit(ctx context.Context, action, mint, amount string) (signature string, err error)
}

// Recovery reclaims rent from empty token accounts after a close.
type Recovery interface {
	ReclaimEmptyAccounts(ctx context.Context) bool
}

// Notifier delivers fire-and-forget operator notifications.
type Notifier interface {
	Notify(text string)
}

// Position is an open copy position on one token market. There is at most
// one position per mint at any time.
type Position struct {
	Mint             string
	CopiedFrom       string
	Venue            string
	BuyTime          time.Time
	Confirmed        bool
	BuyAmount        float64 // tokens received at entry
	BuyCapital       float64 // SOL committed
	BuyPrice         float64
	BuyLatencyMs     int64
	SellLatenciesMs  []int64
	CurrentPrice     float64
	CurrentMarketCap float64
	PeakPnL          float64 // best PnL% seen
	LeastPnL         float64 // worst PnL% seen
	PnL              float64 // current PnL%
	LastUpdated      time.Time
	SolGotten        float64 // proceeds received so far
	AmountHeld       float64
	SellReasons      []string
	LastSellTS       time.Time

	// Fired rule indices. Exit rules and peak-drop rules trigger
	// independently, each index at most once per position lifetime.
	sellIndices map[int]bool
	pdIndices   map[int]bool
}

// Config holds the engine tunables.
type Config struct {
	Simulation             bool
	CapitalSol             float64 // SOL committed per copy entry
	MinCopySol             float64 // minimum size of the copied buy
	MinMarketCapSol        float64
	AllowedVenue           string // empty allows any venue
	MaxConcurrentPositions int
	FeesPerTradeSol        float64
	ExitRules              []domain.ExitRule
	PeakDropRules          []domain.PeakDropRule
	RankingMax             int
	RankByPeakPnL          bool // attribute peak-implied rather than realized PnL
	AutoExit               bool
	AutoPeakDrop           bool
	AutoAlert              bool

	// UnconfirmedTimeout discards positions stuck in pending-buy.
	// Defaults to 2 minutes.
	UnconfirmedTimeout time.Duration
	// PendingOrderTimeout abandons unconfirmed order signatures.
	// Defaults to 10 minutes.
	PendingOrderTimeout time.Duration
}

// Engine owns the position table, pending-order tracker and ranking
// table. A single mutex guards all of it; network calls happen outside
// the lock and re-check state afterwards.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	ledger   Ledger
	orders   Orders
	recovery Recovery
	notifier Notifier
	journal  storage.PositionJournal // optional
	logger   *log.Logger
	now      func() time.Time

	positions map[string]*Position
	pending   *pendingTracker
	ranking   *rankingTable

	totalOpened   int
	totalClosed   int
	totalRealized float64 // cumulative realized SOL PnL across closes
}

// Stats is a point-in-time summary of engine activity.
type Stats struct {
	OpenPositions    int
	PendingOrders    int
	TotalOpened      int
	TotalClosed      int
	TotalRealizedSol float64
}

// New creates an Engine. orders and recovery may be nil in simulation
// mode; notifier and journal may always be nil.
func New(cfg Config, ledger Ledger, orders Orders, recovery Recovery, notifier Notifier, journal storage.PositionJournal, logger *log.Logger) *Engine {
	if cfg.UnconfirmedTimeout == 0 {
		cfg.UnconfirmedTimeout = 2 * time.Minute
	}
	if cfg.PendingOrderTimeout == 0 {
		cfg.PendingOrderTimeout = 10 * time.Minute
	}
	if cfg.RankingMax == 0 {
		cfg.RankingMax = 20
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[copier] ", log.LstdFlags)
	}
	return &Engine{
		cfg:       cfg,
		ledger:    ledger,
		orders:    orders,
		recovery:  recovery,
		notifier:  notifier,
		journal:   journal,
		logger:    logger,
		now:       time.Now,
		positions: make(map[string]*Position),
		pending:   newPendingTracker(cfg.PendingOrderTimeout),
		ranking:   newRankingTable(cfg.RankingMax),
	}
}

// TryEnterCopy is called when a monitored trader buys. It enters a copy
// position when every gate passes: free capacity, copied buy large
// enough, market cap floor met, capital configured, no position on this
// mint yet, venue allowed, and the trader is genuinely entering rather
// than scaling in.
func (e *Engine) TryEnterCopy(ctx context.Context, trader, mint string, amountSol, priceSol, marketCapSol float64, venue string) bool {
	e.mu.Lock()

	// Discard pending buys that never confirmed to free their slot.
	for m, pos := range e.positions {
		if !pos.Confirmed && e.now().Sub(pos.BuyTime) >= e.cfg.UnconfirmedTimeout {
			e.deletePositionLocked(m)
		}
	}

	ok := len(e.positions) < e.cfg.MaxConcurrentPositions &&
		amountSol >= e.cfg.MinCopySol &&
		marketCapSol >= e.cfg.MinMarketCapSol &&
		e.cfg.CapitalSol > 0 &&
		e.positions[mint] == nil &&
		(e.cfg.AllowedVenue == "" || venue == e.cfg.AllowedVenue)
	e.mu.Unlock()

	if !ok {
		return false
	}

	// Only copy first-time entries, never scale-ins.
	if e.ledger.BuyCountFor(trader, mint) >= 2 {
		return false
	}

	return e.buy(ctx, trader, mint, e.cfg.CapitalSol, priceSol, marketCapSol, venue)
}

// buy opens the position and, in live mode, submits the order. A live
// submission failure leaves the unconfirmed position behind; the expiry
// sweep in TryEnterCopy reclaims the slot.
func (e *Engine) buy(ctx context.Context, trader, mint string, amountSol, priceSol, marketCapSol float64, venue string) bool {
	e.mu.Lock()
	if e.positions[mint] != nil {
		e.mu.Unlock()
		return false
	}
	pos := &Position{
		Mint:         mint,
		CopiedFrom:   trader,
		Venue:        "unknown",
		BuyTime:      e.now(),
		BuyCapital:   amountSol,
		BuyPrice:     priceSol,
		CurrentPrice: priceSol,
		LastUpdated:  e.now(),
		LastSellTS:   e.now(),
		sellIndices:  make(map[int]bool),
		pdIndices:    make(map[int]bool),
	}
	e.positions[mint] = pos
	e.totalOpened++
	e.mu.Unlock()

	if !e.cfg.Simulation {
		sig := e.submitOrder(ctx, domain.SideBuy, mint, fmt.Sprintf("%g", amountSol), true)
		return sig != ""
	}

	if priceSol == 0 || amountSol == 0 {
		return false
	}

	// Simulation: synthesize the fill at the event price.
	e.mu.Lock()
	pos, ok := e.positions[mint]
	if !ok {
		e.mu.Unlock()
		return false
	}
	pos.BuyAmount = amountSol / priceSol
	pos.AmountHeld = pos.BuyAmount
	pos.Confirmed = true
	e.mu.Unlock()

	if e.cfg.AutoAlert {
		e.notifier.Notify(fmt.Sprintf(
			"Buy (sim)\nCapital: SOL %g\nAmount: %g\nPrice: SOL %g\nMarketCap: SOL %g\nMint: %s\nCopied from: %s",
			amountSol, amountSol/priceSol, priceSol, marketCapSol, mint, trader))
	}
	return true
}

// submitOrder requests a signed order and submits it. On success the
// signature is registered as pending (sweeping stale entries) and the
// flat per-trade fee is debited from the position's proceeds. Any failure
// is non-fatal and reported as an empty signature.
func (e *Engine) submitOrder(ctx context.Context, action, mint, amount string, isBuy bool) string {
	if e.orders == nil {
		return ""
	}
	sig, err := e.orders.Submit(ctx, action, mint, amount)
	if err != nil || sig == "" {
		e.logger.Printf("submit %s %s failed: %v", action, mint, err)
		return ""
	}

	e.mu.Lock()
	e.pending.add(sig, isBuy, e.now())
	if pos, ok := e.positions[mint]; ok {
		pos.SolGotten -= e.cfg.FeesPerTradeSol
	}
	e.mu.Unlock()
	return sig
}

// OnOwnFill handles a confirmation for one of the bot's own orders.
// Unknown signatures, missing positions and direction mismatches are
// expected under concurrent event arrival and ignored.
func (e *Engine) OnOwnFill(ctx context.Context, fill *domain.Fill) {
	e.mu.Lock()

	order, ok := e.pending.get(fill.Signature)
	pos, havePos := e.positions[fill.Mint]
	if !ok || !havePos {
		e.mu.Unlock()
		return
	}

	now := e.now()
	latency := now.Sub(order.submittedAt).Milliseconds()

	switch {
	case fill.Side == domain.SideBuy && order.isBuy:
		e.pending.remove(fill.Signature)
		pos.BuyLatencyMs = latency
		pos.BuyAmount = fill.TokenAmount
		pos.AmountHeld = fill.TokenAmount
		pos.BuyCapital = fill.SolAmount
		pos.BuyPrice = fill.PriceSol
		pos.Confirmed = true
		e.mu.Unlock()

		if e.cfg.AutoAlert {
			e.notifier.Notify(fmt.Sprintf(
				"Buy confirmed\nCapital: SOL %g\nAmount: %g\nPrice: SOL %g\nLatency: %dms\nMint: %s\nCopied from: %s\nSignature: %s",
				fill.SolAmount, fill.TokenAmount, fill.PriceSol, latency, fill.Mint, pos.CopiedFrom, fill.Signature))
		}

	case fill.Side == domain.SideSell && !order.isBuy:
		e.pending.remove(fill.Signature)
		pos.SellLatenciesMs = append(pos.SellLatenciesMs, latency)
		pos.AmountHeld = max(0, pos.AmountHeld-fill.TokenAmount)
		pos.SolGotten += fill.SolAmount
		pos.LastSellTS = now
		closed := e.closeCheckLocked(fill.Mint)
		e.mu.Unlock()

		if e.cfg.AutoAlert {
			e.notifier.Notify(fmt.Sprintf(
				"Sell confirmed\nReturns: SOL %g\nPrice: SOL %g\nLatency: %dms\nMint: %s\nSignature: %s",
				fill.SolAmount, fill.PriceSol, latency, fill.Mint, fill.Signature))
		}
		e.finalizeClose(ctx, closed)

	default:
		e.mu.Unlock()
	}
}

// OnMarketEvent refreshes the mark for any confirmed position on the
// event's market and runs the exit passes: configured exit rules first,
// then peak-drop rules, with at most one successful sale per event.
func (e *Engine) OnMarketEvent(ctx context.Context, ev *domain.TradeEvent) {
	e.mu.Lock()
	pos, ok := e.positions[ev.Mint]
	if !ok || !pos.Confirmed {
		e.mu.Unlock()
		return
	}

	pos.CurrentPrice = ev.PriceSol
	pos.CurrentMarketCap = ev.MarketCapSol
	pos.Venue = ev.Venue
	currentValue := pos.SolGotten + pos.AmountHeld*pos.CurrentPrice
	pos.PnL = (currentValue - pos.BuyCapital) / pos.BuyCapital * 100
	if pos.PnL < pos.LeastPnL {
		pos.LeastPnL = pos.PnL
	}
	if pos.PnL > pos.PeakPnL {
		pos.PeakPnL = pos.PnL
	}
	pos.LastUpdated = e.now()

	held := pos.AmountHeld
	e.mu.Unlock()

	if held <= 0 {
		return
	}

	if e.cfg.AutoExit && e.runExitRules(ctx, ev) {
		return
	}
	if e.cfg.AutoPeakDrop {
		e.runPeakDropRules(ctx, ev)
	}
}

// Sell sells percent of the held amount for the given reason. In live
// mode the amount is resolved by the venue from the percentage; in
// simulation the proceeds are realized immediately at priceHint (falling
// back to the last known price). Returns whether the sale was submitted
// (live) or executed (simulation).
func (e *Engine) Sell(ctx context.Context, mint string, percent float64, reason string, priceHint float64) bool {
	e.mu.Lock()
	pos, ok := e.positions[mint]
	if !ok {
		e.mu.Unlock()
		return false
	}
	price := priceHint
	if price == 0 {
		price = pos.CurrentPrice
	}

	if !e.cfg.Simulation {
		e.mu.Unlock()
		sig := e.submitOrder(ctx, domain.SideSell, mint, fmt.Sprintf("%g%%", percent), false)
		if sig == "" {
			return false
		}
		e.mu.Lock()
		if pos, ok := e.positions[mint]; ok {
			pos.SellReasons = append(pos.SellReasons, reason)
		}
		e.mu.Unlock()
		return true
	}

	if percent == 0 || price == 0 || pos.AmountHeld <= 0 {
		e.mu.Unlock()
		return false
	}

	amountToSell := percent / 100 * pos.AmountHeld
	solValue := amountToSell * price
	pos.AmountHeld -= amountToSell
	pos.LastSellTS = e.now()
	pos.SellReasons = append(pos.SellReasons, reason)
	pos.SellLatenciesMs = append(pos.SellLatenciesMs, 0)
	pos.SolGotten += solValue
	mktCap := pos.CurrentMarketCap
	closed := e.closeCheckLocked(mint)
	e.mu.Unlock()

	if e.cfg.AutoAlert {
		e.notifier.Notify(fmt.Sprintf(
			"Sell (sim)\nAmount: %g%%\nReturns: SOL %g\nPrice: SOL %g\nMarketCap: SOL %g\nReason: %s\nMint: %s",
			percent, solValue, price, mktCap, reason, mint))
	}
	e.finalizeClose(ctx, closed)
	return true
}

// closeCheckLocked decides whether the position is effectively closed
// (held below 2% of the bought amount), and if so snapshots its final
// stats, folds them into the ranking table and deletes it. Caller holds
// e.mu; the returned snapshot is finalized outside the lock.
func (e *Engine) closeCheckLocked(mint string) *domain.ClosedPosition {
	pos, ok := e.positions[mint]
	if !ok || pos.BuyAmount == 0 {
		return nil
	}
	heldPerc := math.Round(pos.AmountHeld / pos.BuyAmount * 100)
	if heldPerc >= 2 {
		return nil
	}

	returns := pos.SolGotten - pos.BuyCapital
	peakReturns := pos.PeakPnL / 100 * pos.BuyCapital
	attributed := returns
	if e.cfg.RankByPeakPnL {
		attributed = peakReturns
	}
	e.ranking.record(pos.CopiedFrom, attributed, returns)

	var avgSellLat int64
	if n := len(pos.SellLatenciesMs); n > 0 {
		var sum int64
		for _, l := range pos.SellLatenciesMs {
			sum += l
		}
		avgSellLat = sum / int64(n)
	}

	closed := &domain.ClosedPosition{
		Mint:         mint,
		CopiedFrom:   pos.CopiedFrom,
		Venue:        pos.Venue,
		BuyCapital:   pos.BuyCapital,
		ReturnsSol:   returns,
		PnLPerc:      pos.PnL,
		PeakPnLPerc:  pos.PeakPnL,
		LeastPnLPerc: pos.LeastPnL,
		Sells:        len(pos.SellReasons),
		SellReasons:  joinReasons(pos.SellReasons),
		DurationMs:   pos.LastSellTS.Sub(pos.BuyTime).Milliseconds(),
		BuyLatencyMs: pos.BuyLatencyMs,
		AvgSellLatMs: avgSellLat,
		FinalPrice:   pos.CurrentPrice,
		FinalMktCap:  pos.CurrentMarketCap,
		ClosedAtMs:   e.now().UnixMilli(),
	}

	e.deletePositionLocked(mint)
	e.totalRealized += returns
	return closed
}

// finalizeClose runs the I/O tail of a close: operator notification,
// journal write and rent recovery, all best-effort.
func (e *Engine) finalizeClose(ctx context.Context, closed *domain.ClosedPosition) {
	if closed == nil {
		return
	}

	e.logger.Printf("closed %s: SOL %+.6f (%.2f%%) after %d sells",
		closed.Mint, closed.ReturnsSol, closed.PnLPerc, closed.Sells)

	if e.cfg.AutoAlert {
		e.notifier.Notify(fmt.Sprintf(
			"Close position\nPnL: SOL %g (%.2f%%)\nLeast/Peak PnL: %.2f%% / %.2f%%\nSells: %d (%s)\nMint: %s\nCopied from: %s",
			closed.ReturnsSol, closed.PnLPerc, closed.LeastPnLPerc, closed.PeakPnLPerc,
			closed.Sells, closed.SellReasons, closed.Mint, closed.CopiedFrom))
	}

	if e.journal != nil {
		if err := e.journal.Insert(ctx, closed); err != nil {
			e.logger.Printf("journal insert for %s failed: %v", closed.Mint, err)
		}
	}
	if e.recovery != nil {
		e.recovery.ReclaimEmptyAccounts(ctx)
	}
}

// deletePositionLocked removes the position and counts the close.
// Caller holds e.mu.
func (e *Engine) deletePositionLocked(mint string) {
	if _, ok := e.positions[mint]; ok {
		e.totalClosed++
		delete(e.positions, mint)
	}
}

// Position returns a snapshot of the position on mint, or false.
func (e *Engine) Position(mint string) (Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[mint]
	if !ok {
		return Position{}, false
	}
	return snapshotPosition(pos), true
}

// Positions returns snapshots of all open positions, oldest first.
func (e *Engine) Positions() []Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, snapshotPosition(pos))
	}
	sortPositionsByBuyTime(out)
	return out
}

// Ranking returns the current leaderboard, best trader first.
func (e *Engine) Ranking() []RankingEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ranking.top()
}

// Stats returns engine activity counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		OpenPositions:    len(e.positions),
		PendingOrders:    e.pending.len(),
		TotalOpened:      e.totalOpened,
		TotalClosed:      e.totalClosed,
		TotalRealizedSol: e.totalRealized,
	}
}

func sortPositionsByBuyTime(positions []Position) {
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].BuyTime.Before(positions[j].BuyTime)
	})
}

func snapshotPosition(pos *Position) Position {
	snap := *pos
	snap.SellLatenciesMs = append([]int64(nil), pos.SellLatenciesMs...)
	snap.SellReasons = append([]string(nil), pos.SellReasons...)
	snap.sellIndices = nil
	snap.pdIndices = nil
	return snap
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += ", "
		}
		out += r
	}
	return out
}

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}
