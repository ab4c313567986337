package copier

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newben420/kolt/internal/domain"
)

type fakeLedger struct {
	counts map[string]int
}

func (f *fakeLedger) BuyCountFor(trader, mint string) int {
	return f.counts[trader+"/"+mint]
}

type fakeOrders struct {
	fail    bool
	nextSig int
	calls   []string
}

func (f *fakeOrders) Submit(_ context.Context, action, mint, amount string) (string, error) {
	f.calls = append(f.calls, action+" "+mint+" "+amount)
	if f.fail {
		return "", errors.New("rpc unavailable")
	}
	f.nextSig++
	return "sig-" + string(rune('0'+f.nextSig)), nil
}

type fakeRecovery struct {
	calls int
}

func (f *fakeRecovery) ReclaimEmptyAccounts(context.Context) bool {
	f.calls++
	return true
}

type fakeNotifier struct {
	msgs []string
}

func (f *fakeNotifier) Notify(text string) {
	f.msgs = append(f.msgs, text)
}

type fakeJournal struct {
	inserted []*domain.ClosedPosition
}

func (f *fakeJournal) Insert(_ context.Context, p *domain.ClosedPosition) error {
	f.inserted = append(f.inserted, p)
	return nil
}

func (f *fakeJournal) GetByTrader(context.Context, string) ([]*domain.ClosedPosition, error) {
	return nil, nil
}

func (f *fakeJournal) GetAll(context.Context) ([]*domain.ClosedPosition, error) {
	return nil, nil
}

func testEngineConfig() Config {
	return Config{
		Simulation:             true,
		CapitalSol:             1,
		MinCopySol:             0.5,
		MinMarketCapSol:        100,
		MaxConcurrentPositions: 3,
		AutoExit:               true,
		AutoPeakDrop:           true,
		RankingMax:             10,
	}
}

type engineFixture struct {
	engine   *Engine
	ledger   *fakeLedger
	orders   *fakeOrders
	recovery *fakeRecovery
	notifier *fakeNotifier
	journal  *fakeJournal
	now      *time.Time
}

func newTestEngine(t *testing.T, cfg Config) *engineFixture {
	t.Helper()
	fx := &engineFixture{
		ledger:   &fakeLedger{counts: map[string]int{}},
		orders:   &fakeOrders{},
		recovery: &fakeRecovery{},
		notifier: &fakeNotifier{},
		journal:  &fakeJournal{},
	}
	logger := log.New(io.Discard, "", 0)
	fx.engine = New(cfg, fx.ledger, fx.orders, fx.recovery, fx.notifier, fx.journal, logger)
	now := time.Unix(1700000000, 0)
	fx.now = &now
	fx.engine.now = func() time.Time { return now }
	return fx
}

func (fx *engineFixture) enter(t *testing.T, trader, mint string) {
	t.Helper()
	ok := fx.engine.TryEnterCopy(context.Background(), trader, mint, 1, 0.001, 500, "pump")
	require.True(t, ok)
}

func marketEvent(mint string, price float64) *domain.TradeEvent {
	return &domain.TradeEvent{
		Trader:       "bystander",
		Mint:         mint,
		Side:         domain.SideBuy,
		SolAmount:    1,
		PriceSol:     price,
		MarketCapSol: 500,
		Venue:        "pump",
	}
}

func TestTryEnterCopy_Gates(t *testing.T) {
	cases := []struct {
		name string
		call func(fx *engineFixture) bool
	}{
		{"copied buy too small", func(fx *engineFixture) bool {
			return fx.engine.TryEnterCopy(context.Background(), "a", "m1", 0.1, 0.001, 500, "pump")
		}},
		{"market cap too low", func(fx *engineFixture) bool {
			return fx.engine.TryEnterCopy(context.Background(), "a", "m1", 1, 0.001, 50, "pump")
		}},
		{"wrong venue", func(fx *engineFixture) bool {
			return fx.engine.TryEnterCopy(context.Background(), "a", "m1", 1, 0.001, 500, "raydium")
		}},
		{"trader scaling in", func(fx *engineFixture) bool {
			fx.ledger.counts["a/m1"] = 2
			return fx.engine.TryEnterCopy(context.Background(), "a", "m1", 1, 0.001, 500, "pump")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testEngineConfig()
			cfg.AllowedVenue = "pump"
			fx := newTestEngine(t, cfg)
			assert.False(t, tc.call(fx))
			assert.Equal(t, 0, fx.engine.Stats().OpenPositions)
		})
	}
}

func TestTryEnterCopy_OnePositionPerMint(t *testing.T) {
	fx := newTestEngine(t, testEngineConfig())
	fx.enter(t, "alice", "m1")
	assert.False(t, fx.engine.TryEnterCopy(context.Background(), "bob", "m1", 1, 0.001, 500, "pump"))
	assert.Equal(t, 1, fx.engine.Stats().OpenPositions)
}

func TestTryEnterCopy_MaxConcurrentPositions(t *testing.T) {
	cfg := testEngineConfig()
	cfg.MaxConcurrentPositions = 2
	fx := newTestEngine(t, cfg)
	fx.enter(t, "a", "m1")
	fx.enter(t, "a", "m2")
	assert.False(t, fx.engine.TryEnterCopy(context.Background(), "a", "m3", 1, 0.001, 500, "pump"))
}

func TestTryEnterCopy_SimulationConfirmsImmediately(t *testing.T) {
	fx := newTestEngine(t, testEngineConfig())
	fx.enter(t, "alice", "m1")

	pos, ok := fx.engine.Position("m1")
	require.True(t, ok)
	assert.True(t, pos.Confirmed)
	assert.InDelta(t, 1000, pos.BuyAmount, 1e-9) // 1 SOL at 0.001
	assert.InDelta(t, 1000, pos.AmountHeld, 1e-9)
	assert.Equal(t, "alice", pos.CopiedFrom)
	assert.Empty(t, fx.orders.calls)
}

func TestTryEnterCopy_LiveSubmitsOrder(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Simulation = false
	cfg.FeesPerTradeSol = 0.000005
	fx := newTestEngine(t, cfg)

	fx.enter(t, "alice", "m1")

	require.Len(t, fx.orders.calls, 1)
	assert.Equal(t, "buy m1 1", fx.orders.calls[0])
	pos, ok := fx.engine.Position("m1")
	require.True(t, ok)
	assert.False(t, pos.Confirmed)
	assert.InDelta(t, -0.000005, pos.SolGotten, 1e-12)
	assert.Equal(t, 1, fx.engine.Stats().PendingOrders)
}

func TestUnconfirmedPositionExpiresAndFreesSlot(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Simulation = false
	cfg.MaxConcurrentPositions = 1
	fx := newTestEngine(t, cfg)
	fx.orders.fail = true

	assert.False(t, fx.engine.TryEnterCopy(context.Background(), "a", "m1", 1, 0.001, 500, "pump"))
	assert.Equal(t, 1, fx.engine.Stats().OpenPositions)

	// Slot is still occupied before the timeout.
	assert.False(t, fx.engine.TryEnterCopy(context.Background(), "a", "m2", 1, 0.001, 500, "pump"))

	*fx.now = fx.now.Add(3 * time.Minute)
	fx.orders.fail = false
	assert.True(t, fx.engine.TryEnterCopy(context.Background(), "a", "m2", 1, 0.001, 500, "pump"))
	_, stale := fx.engine.Position("m1")
	assert.False(t, stale)
}

func TestOnOwnFill_BuyConfirmation(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Simulation = false
	fx := newTestEngine(t, cfg)
	fx.enter(t, "alice", "m1")

	*fx.now = fx.now.Add(150 * time.Millisecond)
	fx.engine.OnOwnFill(context.Background(), &domain.Fill{
		Signature:   "sig-1",
		Mint:        "m1",
		Side:        domain.SideBuy,
		TokenAmount: 950,
		SolAmount:   1,
		PriceSol:    0.00105,
	})

	pos, ok := fx.engine.Position("m1")
	require.True(t, ok)
	assert.True(t, pos.Confirmed)
	assert.InDelta(t, 950, pos.AmountHeld, 1e-9)
	assert.InDelta(t, 0.00105, pos.BuyPrice, 1e-12)
	assert.Equal(t, int64(150), pos.BuyLatencyMs)
	assert.Equal(t, 0, fx.engine.Stats().PendingOrders)
}

func TestOnOwnFill_UnknownSignatureIgnored(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Simulation = false
	fx := newTestEngine(t, cfg)
	fx.enter(t, "alice", "m1")

	fx.engine.OnOwnFill(context.Background(), &domain.Fill{
		Signature: "never-submitted", Mint: "m1", Side: domain.SideBuy, TokenAmount: 950,
	})

	pos, _ := fx.engine.Position("m1")
	assert.False(t, pos.Confirmed)
	assert.Equal(t, 1, fx.engine.Stats().PendingOrders)
}

func TestExitRule_TakeProfit(t *testing.T) {
	cfg := testEngineConfig()
	cfg.ExitRules = []domain.ExitRule{{SellPercentage: 50, TriggerValue: 50}}
	fx := newTestEngine(t, cfg)
	fx.enter(t, "alice", "m1")

	// Price doubles: PnL 100% >= 50, sell half.
	fx.engine.OnMarketEvent(context.Background(), marketEvent("m1", 0.002))

	pos, ok := fx.engine.Position("m1")
	require.True(t, ok)
	assert.InDelta(t, 500, pos.AmountHeld, 1e-9)
	assert.InDelta(t, 1.0, pos.SolGotten, 1e-9)
	assert.Equal(t, []string{"TP 0"}, pos.SellReasons)

	// Same rule never fires twice.
	fx.engine.OnMarketEvent(context.Background(), marketEvent("m1", 0.003))
	pos, _ = fx.engine.Position("m1")
	assert.Len(t, pos.SellReasons, 1)
}

func TestExitRule_StopLoss(t *testing.T) {
	cfg := testEngineConfig()
	cfg.ExitRules = []domain.ExitRule{{SellPercentage: 100, TriggerValue: -30}}
	fx := newTestEngine(t, cfg)
	fx.enter(t, "alice", "m1")

	fx.engine.OnMarketEvent(context.Background(), marketEvent("m1", 0.0006)) // -40%

	_, open := fx.engine.Position("m1")
	assert.False(t, open) // full sale closes the position
	assert.Equal(t, 1, fx.engine.Stats().TotalClosed)
}

func TestExitRule_CopyTriggered(t *testing.T) {
	cfg := testEngineConfig()
	cfg.ExitRules = []domain.ExitRule{{SellPercentage: 50, TriggerByCopy: true, TriggerValue: -50}}
	fx := newTestEngine(t, cfg)
	fx.enter(t, "alice", "m1")

	// A stranger selling does not trigger.
	ev := marketEvent("m1", 0.001)
	ev.Side = domain.SideSell
	fx.engine.OnMarketEvent(context.Background(), ev)
	pos, _ := fx.engine.Position("m1")
	assert.Empty(t, pos.SellReasons)

	// The copied trader selling below the rule's PnL floor does not
	// trigger either.
	under := marketEvent("m1", 0.0004) // -60%
	under.Side = domain.SideSell
	under.Trader = "alice"
	fx.engine.OnMarketEvent(context.Background(), under)
	pos, _ = fx.engine.Position("m1")
	assert.Empty(t, pos.SellReasons)

	ev.Trader = "alice"
	fx.engine.OnMarketEvent(context.Background(), ev)
	pos, _ = fx.engine.Position("m1")
	assert.Equal(t, []string{"Copy 0"}, pos.SellReasons)
}

func TestExitRules_AtMostOneSalePerEvent(t *testing.T) {
	cfg := testEngineConfig()
	cfg.ExitRules = []domain.ExitRule{
		{SellPercentage: 25, TriggerValue: 20},
		{SellPercentage: 25, TriggerValue: 40},
	}
	fx := newTestEngine(t, cfg)
	fx.enter(t, "alice", "m1")

	// Both thresholds are exceeded, but only the first rule sells.
	fx.engine.OnMarketEvent(context.Background(), marketEvent("m1", 0.002))
	pos, _ := fx.engine.Position("m1")
	assert.Equal(t, []string{"TP 0"}, pos.SellReasons)

	// The next event fires the second rule, and each reason names the
	// rule that produced it.
	fx.engine.OnMarketEvent(context.Background(), marketEvent("m1", 0.002))
	pos, _ = fx.engine.Position("m1")
	assert.Equal(t, []string{"TP 0", "TP 1"}, pos.SellReasons)
}

func TestExitRule_UnfiresOnFailedSell(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Simulation = false
	cfg.ExitRules = []domain.ExitRule{{SellPercentage: 50, TriggerValue: 50}}
	fx := newTestEngine(t, cfg)
	fx.enter(t, "alice", "m1")
	fx.engine.OnOwnFill(context.Background(), &domain.Fill{
		Signature: "sig-1", Mint: "m1", Side: domain.SideBuy,
		TokenAmount: 1000, SolAmount: 1, PriceSol: 0.001,
	})

	fx.orders.fail = true
	fx.engine.OnMarketEvent(context.Background(), marketEvent("m1", 0.002))
	pos, _ := fx.engine.Position("m1")
	assert.Empty(t, pos.SellReasons)

	// Submission works again: the same rule retries and fires.
	fx.orders.fail = false
	fx.engine.OnMarketEvent(context.Background(), marketEvent("m1", 0.002))
	pos, _ = fx.engine.Position("m1")
	assert.Equal(t, []string{"TP 0"}, pos.SellReasons)
}

func TestPeakDrop_FiresWithinBand(t *testing.T) {
	cfg := testEngineConfig()
	cfg.PeakDropRules = []domain.PeakDropRule{
		{MinDropPerc: 30, MinPnLPerc: 20, MaxPnLPerc: 200, SellPercentage: 100},
	}
	fx := newTestEngine(t, cfg)
	fx.enter(t, "alice", "m1")

	fx.engine.OnMarketEvent(context.Background(), marketEvent("m1", 0.002)) // peak 100%
	pos, _ := fx.engine.Position("m1")
	require.Empty(t, pos.SellReasons)

	// Retreat to +50%: drop of 50 >= 30 and PnL inside [20, 200].
	fx.engine.OnMarketEvent(context.Background(), marketEvent("m1", 0.0015))
	_, open := fx.engine.Position("m1")
	assert.False(t, open)
}

func TestPeakDrop_SkippedWhenExitRuleSold(t *testing.T) {
	cfg := testEngineConfig()
	cfg.ExitRules = []domain.ExitRule{{SellPercentage: 25, TriggerValue: 20}}
	cfg.PeakDropRules = []domain.PeakDropRule{
		{MinDropPerc: 0, MinPnLPerc: -100, MaxPnLPerc: 1000, SellPercentage: 25},
	}
	fx := newTestEngine(t, cfg)
	fx.enter(t, "alice", "m1")

	fx.engine.OnMarketEvent(context.Background(), marketEvent("m1", 0.002))

	pos, _ := fx.engine.Position("m1")
	assert.Equal(t, []string{"TP 0"}, pos.SellReasons)
}

func TestClose_FullLifecycle(t *testing.T) {
	cfg := testEngineConfig()
	cfg.AutoAlert = true
	fx := newTestEngine(t, cfg)
	fx.enter(t, "alice", "m1")

	fx.engine.OnMarketEvent(context.Background(), marketEvent("m1", 0.002))
	*fx.now = fx.now.Add(90 * time.Second)
	ok := fx.engine.Sell(context.Background(), "m1", 100, domain.ReasonTakeProfit, 0.002)
	require.True(t, ok)

	_, open := fx.engine.Position("m1")
	assert.False(t, open)

	stats := fx.engine.Stats()
	assert.Equal(t, 1, stats.TotalClosed)
	assert.InDelta(t, 1.0, stats.TotalRealizedSol, 1e-9) // 2 SOL back on 1 in

	require.Len(t, fx.journal.inserted, 1)
	closed := fx.journal.inserted[0]
	assert.Equal(t, "m1", closed.Mint)
	assert.Equal(t, "alice", closed.CopiedFrom)
	assert.InDelta(t, 1.0, closed.ReturnsSol, 1e-9)
	assert.InDelta(t, 100, closed.PnLPerc, 1e-9)
	assert.Equal(t, int64(90000), closed.DurationMs)
	assert.Equal(t, 1, fx.recovery.calls)
	assert.NotEmpty(t, fx.notifier.msgs)

	ranking := fx.engine.Ranking()
	require.Len(t, ranking, 1)
	assert.Equal(t, "alice", ranking[0].Address)
	assert.InDelta(t, 1.0, ranking[0].PnL, 1e-9)
	assert.Equal(t, 1, ranking[0].Wins)
}

func TestClose_ResidualDustUnderTwoPercent(t *testing.T) {
	fx := newTestEngine(t, testEngineConfig())
	fx.enter(t, "alice", "m1")

	// 99% out leaves 1% held, which rounds under the close threshold.
	require.True(t, fx.engine.Sell(context.Background(), "m1", 99, domain.ReasonTakeProfit, 0.001))

	_, open := fx.engine.Position("m1")
	assert.False(t, open)
}

func TestClose_LosingTraderDroppedFromRanking(t *testing.T) {
	fx := newTestEngine(t, testEngineConfig())
	fx.enter(t, "alice", "m1")

	// Sell everything at a fifth of entry: -0.8 SOL realized.
	require.True(t, fx.engine.Sell(context.Background(), "m1", 100, domain.ReasonStopLoss, 0.0002))

	assert.Empty(t, fx.engine.Ranking())
}

func TestSell_NoPosition(t *testing.T) {
	fx := newTestEngine(t, testEngineConfig())
	assert.False(t, fx.engine.Sell(context.Background(), "nope", 50, domain.ReasonTakeProfit, 0.001))
}

func TestPositions_SortedByEntryTime(t *testing.T) {
	fx := newTestEngine(t, testEngineConfig())
	fx.enter(t, "a", "m1")
	*fx.now = fx.now.Add(time.Second)
	fx.enter(t, "a", "m2")

	positions := fx.engine.Positions()
	require.Len(t, positions, 2)
	assert.Equal(t, "m1", positions[0].Mint)
	assert.Equal(t, "m2", positions[1].Mint)
}
