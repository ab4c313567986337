// Package tracker maintains the follow list: the bounded set of trader
// wallets whose trades are surfaced to the operator and considered for
// copying. Top performers from the PnL ledger are merged in
// periodically; inactive ones are rotated out. Manually added wallets
// are never garbage collected.
package tracker

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/newben420/kolt/internal/domain"
	"github.com/newben420/kolt/internal/ledger"
)

// StatsSource exposes the ledger queries the tracker needs.
type StatsSource interface {
	TopTraders(limit int) []ledger.TraderStats
	TraderStats(address string) (ledger.TraderStats, bool)
}

// Notifier delivers fire-and-forget operator notifications.
type Notifier interface {
	Notify(text string)
}

// PnLSnapshot carries the ledger scores known at add time, kept as a
// fallback for display when the ledger later forgets the trader.
type PnLSnapshot struct {
	Total      float64
	Realized   float64
	Unrealized float64
}

// Trader is one followed wallet.
type Trader struct {
	Address     string
	TimeAdded   time.Time
	LastUpdated time.Time
	Manual      bool
	ShowAlert   bool
	Buys        int
	Sells       int
	BuysSol     float64
	SellsSol    float64
	Snapshot    PnLSnapshot
}

// Config holds the tracker tunables.
type Config struct {
	// MaxAutoTraders bounds the automatically merged portion of the
	// follow list. Manual adds don't count against it.
	MaxAutoTraders int
	// Interval is the merge/GC sweep cadence.
	Interval time.Duration
	// InactivityTimeout rotates out auto-added wallets with no
	// observed trade for this long.
	InactivityTimeout time.Duration

	SendActivity   bool // per-trade alerts for followed wallets
	SendAutoAdd    bool // summary when the sweep adds top traders
	SendAutoRemove bool // summary when the sweep removes idle ones
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	cfg      Config
	stats    StatsSource
	notifier Notifier
	logger   *log.Logger
	now      func() time.Time

	traders      map[string]*Trader
	removedCount int

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Tracker. notifier may be nil.
func New(cfg Config, stats StatsSource, notifier Notifier, logger *log.Logger) *Tracker {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[tracker] ", log.LstdFlags)
	}
	return &Tracker{
		cfg:      cfg,
		stats:    stats,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		traders:  make(map[string]*Trader),
		done:     make(chan struct{}),
	}
}

// Start launches the periodic merge/GC loop.
func (t *Tracker) Start() {
	go t.loop()
}

// Stop terminates the loop. Idempotent.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

func (t *Tracker) loop() {
	for {
		start := t.now()
		t.Sweep()
		wait := t.cfg.Interval - t.now().Sub(start)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-t.done:
			return
		case <-time.After(wait):
		}
	}
}

// Add follows a wallet. Automatic adds are refused once the auto
// portion of the list is full; manual adds always succeed. Re-adding an
// existing wallet refreshes its activity timestamp and PnL snapshot and
// returns false.
func (t *Tracker) Add(address string, manual bool, snap PnLSnapshot) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addLocked(address, manual, snap)
}

func (t *Tracker) addLocked(address string, manual bool, snap PnLSnapshot) bool {
	now := t.now()
	if existing, ok := t.traders[address]; ok {
		existing.LastUpdated = now
		if snap.Total != 0 {
			existing.Snapshot.Total = snap.Total
		}
		if snap.Realized != 0 {
			existing.Snapshot.Realized = snap.Realized
		}
		if snap.Unrealized != 0 {
			existing.Snapshot.Unrealized = snap.Unrealized
		}
		return false
	}

	if !manual && t.autoCountLocked() >= t.cfg.MaxAutoTraders {
		return false
	}
	t.traders[address] = &Trader{
		Address:     address,
		TimeAdded:   now,
		LastUpdated: now,
		Manual:      manual,
		ShowAlert:   t.cfg.SendActivity,
		Snapshot:    snap,
	}
	return true
}

// Remove unfollows a wallet.
func (t *Tracker) Remove(address string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(address)
}

func (t *Tracker) removeLocked(address string) bool {
	if _, ok := t.traders[address]; !ok {
		return false
	}
	delete(t.traders, address)
	t.removedCount++
	return true
}

// Exists reports whether the wallet is followed.
func (t *Tracker) Exists(address string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.traders[address]
	return ok
}

// IsExempt satisfies the ledger's exemption check: followed wallets are
// never evicted from the PnL ledger.
func (t *Tracker) IsExempt(address string) bool {
	return t.Exists(address)
}

// Get returns a snapshot of the followed wallet.
func (t *Tracker) Get(address string) (Trader, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.traders[address]
	if !ok {
		return Trader{}, false
	}
	return *tr, true
}

// AddressStartsWith resolves an address prefix (operator shorthand) to
// a full followed address, or "".
func (t *Tracker) AddressStartsWith(prefix string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	for addr := range t.traders {
		if strings.HasPrefix(addr, prefix) {
			return addr
		}
	}
	return ""
}

// Traders returns snapshots of every followed wallet, oldest first.
func (t *Tracker) Traders() []Trader {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Trader, 0, len(t.traders))
	for _, tr := range t.traders {
		out = append(out, *tr)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TimeAdded.Before(out[j].TimeAdded)
	})
	return out
}

// AutoCount returns how many followed wallets were added automatically.
func (t *Tracker) AutoCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.autoCountLocked()
}

func (t *Tracker) autoCountLocked() int {
	n := 0
	for _, tr := range t.traders {
		if !tr.Manual {
			n++
		}
	}
	return n
}

// ManualCount returns how many followed wallets the operator added.
func (t *Tracker) ManualCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.traders) - t.autoCountLocked()
}

// RemovedCount returns how many wallets have been unfollowed so far.
func (t *Tracker) RemovedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removedCount
}

// OnTrade updates activity counters for a followed wallet and, when
// per-trade alerts are on, notifies the operator.
func (t *Tracker) OnTrade(ev *domain.TradeEvent) {
	t.mu.Lock()
	tr, ok := t.traders[ev.Trader]
	if !ok {
		t.mu.Unlock()
		return
	}
	tr.LastUpdated = t.now()
	switch ev.Side {
	case domain.SideBuy:
		tr.Buys++
		tr.BuysSol += ev.SolAmount
	case domain.SideSell:
		tr.Sells++
		tr.SellsSol += ev.SolAmount
	}
	alert := tr.ShowAlert
	snap := *tr
	t.mu.Unlock()

	if !alert {
		return
	}
	t.notifier.Notify(t.activityMessage(&snap, ev))
}

func (t *Tracker) activityMessage(tr *Trader, ev *domain.TradeEvent) string {
	verb := "bought with"
	if ev.Side == domain.SideSell {
		verb = "sold for"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s SOL %.4f at %.9f\n", shortAddress(ev.Trader), verb, ev.SolAmount, ev.PriceSol)
	fmt.Fprintf(&b, "Buys: %d (SOL %.4f) / Sells: %d (SOL %.4f)\n", tr.Buys, tr.BuysSol, tr.Sells, tr.SellsSol)
	fmt.Fprintf(&b, "Active since: %s\n", t.now().Sub(tr.TimeAdded).Truncate(time.Second))
	fmt.Fprintf(&b, "Mint: %s\nTrader: %s\nMarketCapSOL: %.2f\nToken amount: %.2f", ev.Mint, ev.Trader, ev.MarketCapSol, ev.TokenAmount)

	total, realized, unrealized := tr.Snapshot.Total, tr.Snapshot.Realized, tr.Snapshot.Unrealized
	if stats, ok := t.stats.TraderStats(ev.Trader); ok {
		if stats.TotalPnL != 0 {
			total = stats.TotalPnL
		}
		if stats.RealizedPnL != 0 {
			realized = stats.RealizedPnL
		}
		if stats.UnrealizedPnL != 0 {
			unrealized = stats.UnrealizedPnL
		}
	}
	if total != 0 || realized != 0 || unrealized != 0 {
		fmt.Fprintf(&b, "\nPnL: %.2f%% (R %.2f%% / U %.2f%%)", total*100, realized*100, unrealized*100)
	}
	return b.String()
}

// Sweep runs one merge/GC pass: pull the ledger's current top traders
// into the follow list, then drop auto-added wallets that have been
// silent past the inactivity timeout.
func (t *Tracker) Sweep() {
	top := t.stats.TopTraders(t.cfg.MaxAutoTraders)

	t.mu.Lock()
	var added []ledger.TraderStats
	for _, stats := range top {
		ok := t.addLocked(stats.Address, false, PnLSnapshot{
			Total:      stats.TotalPnL,
			Realized:   stats.RealizedPnL,
			Unrealized: stats.UnrealizedPnL,
		})
		if ok {
			added = append(added, stats)
		}
	}

	now := t.now()
	var removed []*Trader
	for addr, tr := range t.traders {
		if tr.Manual {
			continue
		}
		if now.Sub(tr.LastUpdated) >= t.cfg.InactivityTimeout {
			snap := *tr
			if t.removeLocked(addr) {
				removed = append(removed, &snap)
			}
		}
	}
	t.mu.Unlock()

	if len(added) > 0 {
		t.logger.Printf("sweep added %d top traders", len(added))
		if t.cfg.SendAutoAdd {
			var b strings.Builder
			fmt.Fprintf(&b, "Added %d top trader(s)\n", len(added))
			for i, stats := range added {
				fmt.Fprintf(&b, "%d. %s (%.2f%%)\n", i+1, shortAddress(stats.Address), stats.TotalPnL*100)
			}
			t.notifier.Notify(strings.TrimRight(b.String(), "\n"))
		}
	}
	if len(removed) > 0 {
		t.logger.Printf("sweep removed %d idle traders", len(removed))
		if t.cfg.SendAutoRemove {
			var b strings.Builder
			fmt.Fprintf(&b, "Removed %d idle trader(s)\n", len(removed))
			for i, tr := range removed {
				fmt.Fprintf(&b, "%d. %s (idle %s)\n", i+1, shortAddress(tr.Address), now.Sub(tr.LastUpdated).Truncate(time.Second))
			}
			t.notifier.Notify(strings.TrimRight(b.String(), "\n"))
		}
	}
}

func shortAddress(addr string) string {
	if len(addr) <= 8 {
		return addr
	}
	return addr[:4] + ".." + addr[len(addr)-4:]
}

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}
