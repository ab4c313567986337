// Package ledger maintains per-trader, per-market profit and loss
// accounting for every wallet the bot has an interest in. Buys append FIFO
// lots, sells consume them oldest-first, and the resulting realized plus
// unrealized PnL drives trader tiering and eviction leniency.
package ledger

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/newben420/kolt/internal/domain"
)

// Tracking is the external collaborator consulted during eviction and
// notified about tracking lifecycle changes. The tracker package provides
// the exemption check; the feed provides trade monitoring.
type Tracking interface {
	// IsExempt reports whether the address must never be evicted.
	IsExempt(address string) bool
	// OnNewlyTracked is called once when an address enters the ledger.
	OnNewlyTracked(address string)
	// OnEvicted is called when an address is evicted by the memory cap.
	OnEvicted(address string)
}

// Tier classifies a trader by total PnL. Higher tiers survive inactivity
// longer (see tierMultiplier).
type Tier string

// Trader tiers.
const (
	TierA Tier = "A" // total PnL > 10 SOL
	TierB Tier = "B" // total PnL > 1 SOL
	TierC Tier = "C" // everyone else
)

// tierMultiplier scales the inactivity timeout per tier.
func tierMultiplier(t Tier) time.Duration {
	switch t {
	case TierA:
		return 4
	case TierB:
		return 2
	default:
		return 1
	}
}

// Lot is a FIFO-tracked quantity bought at a specific price.
type Lot struct {
	Amount        float64
	PricePerToken float64
	Timestamp     time.Time
}

// MarketState is one trader's accounting on one token market.
type MarketState struct {
	Lots            []Lot // oldest first
	RealizedPnL     float64
	UnrealizedPnL   float64
	TotalBuysSol    float64
	TotalSellsSol   float64
	BuyCount        int
	CurrentHoldings float64
	LastActive      time.Time
	BadScore        int
	LastPriceSol    float64
}

// TraderRecord is the ledger's per-address record.
type TraderRecord struct {
	Markets    map[string]*MarketState
	LastActive time.Time
	Tier       Tier
}

// TraderStats is a read-only summary of one trader.
type TraderStats struct {
	Address         string
	TotalPnL        float64
	RealizedPnL     float64
	UnrealizedPnL   float64
	Tier            Tier
	CurrentHoldings float64
}

// Config holds the ledger tunables.
type Config struct {
	// BadPnLThreshold is the ROI below which a sell bumps the bad score.
	BadPnLThreshold float64
	// MaxBadScore evicts a market once its bad score reaches it.
	MaxBadScore int
	// MemoryCap is the maximum number of traders kept in memory.
	MemoryCap int
	// InactivityTimeout is the base eviction timeout, scaled per tier.
	InactivityTimeout time.Duration
	// GCInterval is the target cadence of the garbage collection sweep.
	GCInterval time.Duration
}

// Ledger owns the trader table. All state is guarded by a single mutex;
// every mutation happens inside a method call.
type Ledger struct {
	mu       sync.Mutex
	cfg      Config
	tracking Tracking
	logger   *log.Logger
	now      func() time.Time

	traders        map[string]*TraderRecord
	deletedTraders int

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Ledger. tracking may be nil, in which case nothing is
// exempt and lifecycle notifications are dropped.
func New(cfg Config, tracking Tracking, logger *log.Logger) *Ledger {
	if tracking == nil {
		tracking = nopTracking{}
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ledger] ", log.LstdFlags)
	}
	return &Ledger{
		cfg:      cfg,
		tracking: tracking,
		logger:   logger,
		now:      time.Now,
		traders:  make(map[string]*TraderRecord),
		done:     make(chan struct{}),
	}
}

// NewTrader idempotently registers an address and notifies the tracking
// collaborator when the address is new.
func (l *Ledger) NewTrader(address string) {
	l.mu.Lock()
	_, exists := l.traders[address]
	if !exists {
		l.traders[address] = &TraderRecord{
			Markets:    make(map[string]*MarketState),
			LastActive: l.now(),
			Tier:       TierC,
		}
	}
	total := len(l.traders)
	l.mu.Unlock()

	if !exists {
		l.logger.Printf("add trader %s (total %d)", address, total)
		l.tracking.OnNewlyTracked(address)
	}
}

// TraderExists reports whether the address is currently in the ledger.
func (l *Ledger) TraderExists(address string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.traders[address]
	return ok
}

// Count returns the number of traders currently held.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.traders)
}

// DeletedCount returns how many traders the memory cap has evicted.
func (l *Ledger) DeletedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deletedTraders
}

// RecordTrade updates the accounting for one observed trade. Trades by
// unknown traders are ignored; registration is an explicit act (sourcing,
// manual add), not a side effect of the firehose.
func (l *Ledger) RecordTrade(ev *domain.TradeEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	trader, ok := l.traders[ev.Trader]
	if !ok {
		return
	}
	market := l.marketFor(trader, ev.Mint)

	now := l.now()
	trader.LastActive = now
	market.LastActive = now
	market.LastPriceSol = ev.PriceSol

	switch ev.Side {
	case domain.SideBuy:
		market.Lots = append(market.Lots, Lot{
			Amount:        ev.TokenAmount,
			PricePerToken: ev.SolAmount / ev.TokenAmount,
			Timestamp:     now,
		})
		market.TotalBuysSol += ev.SolAmount
		market.BuyCount++
		market.CurrentHoldings += ev.TokenAmount

	case domain.SideSell:
		sellPrice := ev.SolAmount / ev.TokenAmount
		market.TotalSellsSol += ev.SolAmount

		remaining := ev.TokenAmount
		pnlDelta := 0.0
		for remaining > 0 && len(market.Lots) > 0 {
			lot := &market.Lots[0]
			portion := min(lot.Amount, remaining)
			pnlDelta += (sellPrice - lot.PricePerToken) * portion
			lot.Amount -= portion
			remaining -= portion
			if lot.Amount <= 0 {
				market.Lots = market.Lots[1:]
			}
		}
		market.RealizedPnL += pnlDelta
		market.CurrentHoldings = max(0, market.CurrentHoldings-ev.TokenAmount)

		divisor := ev.SolAmount
		if divisor == 0 {
			divisor = 1
		}
		roi := pnlDelta / divisor
		if roi < l.cfg.BadPnLThreshold {
			market.BadScore++
		} else if market.BadScore > 0 {
			market.BadScore--
		}
	}

	updateUnrealizedPnL(market)
	trader.Tier = tierFor(totalPnL(trader))
}

// BuyCountFor returns how many buy trades the ledger has recorded for the
// trader on the given market. The position manager uses this to mirror
// only first-time entries, not scale-ins.
func (l *Ledger) BuyCountFor(trader, mint string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.traders[trader]
	if !ok {
		return 0
	}
	market, ok := rec.Markets[mint]
	if !ok {
		return 0
	}
	return market.BuyCount
}

// TraderStats returns a summary of one trader, or false if unknown.
func (l *Ledger) TraderStats(address string) (TraderStats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.traders[address]
	if !ok {
		return TraderStats{}, false
	}
	return statsFor(address, rec), true
}

// TopTraders returns up to limit traders ranked descending by total
// (realized + unrealized) PnL.
func (l *Ledger) TopTraders(limit int) []TraderStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	scores := make([]TraderStats, 0, len(l.traders))
	for addr, rec := range l.traders {
		scores = append(scores, statsFor(addr, rec))
	}
	sort.Slice(scores, func(i, j int) bool {
		return scores[i].TotalPnL > scores[j].TotalPnL
	})
	if len(scores) > limit {
		scores = scores[:limit]
	}
	return scores
}

// marketFor lazily creates the per-market state. Caller holds l.mu.
func (l *Ledger) marketFor(trader *TraderRecord, mint string) *MarketState {
	market, ok := trader.Markets[mint]
	if !ok {
		market = &MarketState{LastActive: l.now()}
		trader.Markets[mint] = market
	}
	return market
}

// updateUnrealizedPnL recomputes mark-to-market PnL against the weighted
// average lot cost. Zero when there are no holdings or no lots.
func updateUnrealizedPnL(m *MarketState) {
	if m.CurrentHoldings == 0 || len(m.Lots) == 0 {
		m.UnrealizedPnL = 0
		return
	}
	var costSum, amountSum float64
	for _, lot := range m.Lots {
		costSum += lot.Amount * lot.PricePerToken
		amountSum += lot.Amount
	}
	avgCost := costSum / amountSum
	m.UnrealizedPnL = (m.LastPriceSol - avgCost) * m.CurrentHoldings
}

func totalPnL(t *TraderRecord) float64 {
	var total float64
	for _, m := range t.Markets {
		total += m.RealizedPnL + m.UnrealizedPnL
	}
	return total
}

func tierFor(pnl float64) Tier {
	switch {
	case pnl > 10:
		return TierA
	case pnl > 1:
		return TierB
	default:
		return TierC
	}
}

func statsFor(address string, rec *TraderRecord) TraderStats {
	s := TraderStats{Address: address, Tier: rec.Tier}
	for _, m := range rec.Markets {
		s.RealizedPnL += m.RealizedPnL
		s.UnrealizedPnL += m.UnrealizedPnL
		s.CurrentHoldings += m.CurrentHoldings
	}
	s.TotalPnL = s.RealizedPnL + s.UnrealizedPnL
	return s
}

type nopTracking struct{}

func (nopTracking) IsExempt(string) bool  { return false }
func (nopTracking) OnNewlyTracked(string) {}
func (nopTracking) OnEvicted(string)      {}
