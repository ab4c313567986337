package ledger

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newben420/kolt/internal/domain"
)

// fakeTracking records lifecycle calls and exempts a fixed set.
type fakeTracking struct {
	exempt  map[string]bool
	tracked []string
	evicted []string
}

func (f *fakeTracking) IsExempt(addr string) bool { return f.exempt[addr] }
func (f *fakeTracking) OnNewlyTracked(addr string) {
	f.tracked = append(f.tracked, addr)
}
func (f *fakeTracking) OnEvicted(addr string) {
	f.evicted = append(f.evicted, addr)
}

func testConfig() Config {
	return Config{
		BadPnLThreshold:   -0.2,
		MaxBadScore:       3,
		MemoryCap:         5000,
		InactivityTimeout: 30 * time.Minute,
		GCInterval:        3 * time.Minute,
	}
}

func newTestLedger(t *testing.T, cfg Config, tracking Tracking) (*Ledger, *time.Time) {
	t.Helper()
	l := New(cfg, tracking, log.New(io.Discard, "", 0))
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	return l, &now
}

func buy(trader, mint string, sol, tokens float64) *domain.TradeEvent {
	return &domain.TradeEvent{
		Trader: trader, Mint: mint, Side: domain.SideBuy,
		SolAmount: sol, TokenAmount: tokens, PriceSol: sol / tokens,
	}
}

func sell(trader, mint string, sol, tokens float64) *domain.TradeEvent {
	return &domain.TradeEvent{
		Trader: trader, Mint: mint, Side: domain.SideSell,
		SolAmount: sol, TokenAmount: tokens, PriceSol: sol / tokens,
	}
}

func TestRecordTrade_IgnoresUnknownTrader(t *testing.T) {
	l, _ := newTestLedger(t, testConfig(), nil)

	l.RecordTrade(buy("stranger", "mint1", 1, 10))

	assert.Equal(t, 0, l.Count())
	assert.Equal(t, 0, l.BuyCountFor("stranger", "mint1"))
}

func TestNewTrader_IdempotentAndNotifies(t *testing.T) {
	tracking := &fakeTracking{exempt: map[string]bool{}}
	l, _ := newTestLedger(t, testConfig(), tracking)

	l.NewTrader("alice")
	l.NewTrader("alice")

	assert.Equal(t, 1, l.Count())
	assert.Equal(t, []string{"alice"}, tracking.tracked)
}

func TestFIFO_PartialLotConsumption(t *testing.T) {
	// Buy 10 @ 1, sell 4 @ 2: realized PnL 4, one lot of 6 @ 1 left.
	l, _ := newTestLedger(t, testConfig(), nil)
	l.NewTrader("alice")

	l.RecordTrade(buy("alice", "mint1", 10, 10))
	l.RecordTrade(sell("alice", "mint1", 8, 4))

	stats, ok := l.TraderStats("alice")
	require.True(t, ok)
	assert.InDelta(t, 4.0, stats.RealizedPnL, 1e-9)

	l.mu.Lock()
	market := l.traders["alice"].Markets["mint1"]
	require.Len(t, market.Lots, 1)
	assert.InDelta(t, 6.0, market.Lots[0].Amount, 1e-9)
	assert.InDelta(t, 1.0, market.Lots[0].PricePerToken, 1e-9)
	assert.InDelta(t, 6.0, market.CurrentHoldings, 1e-9)
	l.mu.Unlock()
}

func TestFIFO_SellSpansLots(t *testing.T) {
	// Lots 6 @ 1 and 5 @ 2; selling 8 consumes the old lot fully and 2
	// units of the newer one.
	l, _ := newTestLedger(t, testConfig(), nil)
	l.NewTrader("alice")

	l.RecordTrade(buy("alice", "mint1", 6, 6))
	l.RecordTrade(buy("alice", "mint1", 10, 5))
	l.RecordTrade(sell("alice", "mint1", 24, 8)) // sell price 3

	l.mu.Lock()
	market := l.traders["alice"].Markets["mint1"]
	require.Len(t, market.Lots, 1)
	assert.InDelta(t, 3.0, market.Lots[0].Amount, 1e-9)
	assert.InDelta(t, 2.0, market.Lots[0].PricePerToken, 1e-9)
	l.mu.Unlock()

	// (3-1)*6 + (3-2)*2 = 14
	stats, _ := l.TraderStats("alice")
	assert.InDelta(t, 14.0, stats.RealizedPnL, 1e-9)
}

func TestSell_ClampsHoldingsAtZero(t *testing.T) {
	l, _ := newTestLedger(t, testConfig(), nil)
	l.NewTrader("alice")

	l.RecordTrade(buy("alice", "mint1", 5, 5))
	l.RecordTrade(sell("alice", "mint1", 20, 20)) // sells more than held

	l.mu.Lock()
	market := l.traders["alice"].Markets["mint1"]
	assert.Zero(t, market.CurrentHoldings)
	assert.Empty(t, market.Lots)
	l.mu.Unlock()
}

func TestTiering(t *testing.T) {
	cases := []struct {
		pnl  float64
		want Tier
	}{
		{11, TierA},
		{5, TierB},
		{0.5, TierC},
	}
	for _, c := range cases {
		l, _ := newTestLedger(t, testConfig(), nil)
		l.NewTrader("alice")

		// Buy at price 1, sell everything at a price that realizes c.pnl.
		l.RecordTrade(buy("alice", "mint1", 10, 10))
		l.RecordTrade(sell("alice", "mint1", 10+c.pnl, 10))

		l.mu.Lock()
		tier := l.traders["alice"].Tier
		l.mu.Unlock()
		assert.Equal(t, c.want, tier, "pnl %.1f", c.pnl)
	}
}

func TestUnrealizedPnL_MarksToLastPrice(t *testing.T) {
	l, _ := newTestLedger(t, testConfig(), nil)
	l.NewTrader("alice")

	l.RecordTrade(buy("alice", "mint1", 10, 10)) // avg cost 1
	ev := buy("alice", "mint1", 6, 2)            // price 3 moves the mark
	l.RecordTrade(ev)

	// avg cost = (10*1 + 2*3)/12 = 4/3; unrealized = (3 - 4/3) * 12 = 20
	stats, _ := l.TraderStats("alice")
	assert.InDelta(t, 20.0, stats.UnrealizedPnL, 1e-9)
}

func TestBadScore_IncrementsAndDecays(t *testing.T) {
	l, _ := newTestLedger(t, testConfig(), nil)
	l.NewTrader("alice")

	badScore := func() int {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.traders["alice"].Markets["mint1"].BadScore
	}

	// Terrible sell: bought at 1, sold at 0.1 → ROI well below -0.2.
	l.RecordTrade(buy("alice", "mint1", 10, 10))
	l.RecordTrade(sell("alice", "mint1", 0.5, 5))
	assert.Equal(t, 1, badScore())

	// Profitable sell decays the score back to zero, never below.
	l.RecordTrade(buy("alice", "mint1", 1, 1))
	l.RecordTrade(sell("alice", "mint1", 10, 2))
	assert.Equal(t, 0, badScore())
	l.RecordTrade(buy("alice", "mint1", 1, 1))
	l.RecordTrade(sell("alice", "mint1", 10, 1))
	assert.Equal(t, 0, badScore())
}

func TestBuyCountFor_CountsBuyTrades(t *testing.T) {
	l, _ := newTestLedger(t, testConfig(), nil)
	l.NewTrader("alice")

	assert.Equal(t, 0, l.BuyCountFor("alice", "mint1"))
	l.RecordTrade(buy("alice", "mint1", 1, 10))
	l.RecordTrade(buy("alice", "mint1", 2, 10))
	l.RecordTrade(sell("alice", "mint1", 1, 5))

	assert.Equal(t, 2, l.BuyCountFor("alice", "mint1"))
	assert.Equal(t, 0, l.BuyCountFor("alice", "other"))
}

func TestTopTraders_SortedDescending(t *testing.T) {
	l, _ := newTestLedger(t, testConfig(), nil)
	for _, tr := range []string{"a", "b", "c"} {
		l.NewTrader(tr)
	}
	l.RecordTrade(buy("a", "m", 10, 10))
	l.RecordTrade(sell("a", "m", 15, 10)) // +5
	l.RecordTrade(buy("b", "m", 10, 10))
	l.RecordTrade(sell("b", "m", 30, 10)) // +20
	l.RecordTrade(buy("c", "m", 10, 10))
	l.RecordTrade(sell("c", "m", 5, 10)) // -5

	top := l.TopTraders(2)
	require.Len(t, top, 2)
	assert.Equal(t, "b", top[0].Address)
	assert.Equal(t, "a", top[1].Address)
}
