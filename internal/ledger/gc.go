package ledger

import (
	"sort"
	"time"
)

// Start launches the periodic garbage collection sweep. The next run is
// scheduled max(0, interval − sweepDuration) after the previous one so the
// cadence self-corrects for long sweeps.
func (l *Ledger) Start() {
	go l.gcLoop()
}

// Stop terminates the sweep loop. Safe to call more than once.
func (l *Ledger) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

func (l *Ledger) gcLoop() {
	for {
		started := l.now()
		l.CollectGarbage()
		delay := l.cfg.GCInterval - l.now().Sub(started)
		if delay < 0 {
			delay = 0
		}
		select {
		case <-l.done:
			return
		case <-time.After(delay):
		}
	}
}

// CollectGarbage runs one sweep: first the memory-cap pass, then the
// per-trader inactivity and bad-score pass. Exported so tests and
// operators can trigger a sweep directly.
func (l *Ledger) CollectGarbage() {
	now := l.now()

	var evicted []string

	l.mu.Lock()

	// Memory cap enforcement: evict the worst non-exempt traders by
	// total PnL until we are back under the cap.
	if over := len(l.traders) - l.cfg.MemoryCap; over > 0 {
		type scored struct {
			addr string
			pnl  float64
		}
		sorted := make([]scored, 0, len(l.traders))
		for addr, rec := range l.traders {
			sorted = append(sorted, scored{addr, totalPnL(rec)})
		}
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].pnl < sorted[j].pnl
		})
		for _, s := range sorted {
			if len(evicted) >= over {
				break
			}
			if l.tracking.IsExempt(s.addr) {
				continue
			}
			delete(l.traders, s.addr)
			l.deletedTraders++
			evicted = append(evicted, s.addr)
		}
	}

	// Inactivity and performance cleanup. The timeout scales with tier so
	// proven traders survive quiet spells longer.
	removedMarkets := 0
	removedTraders := len(evicted)
	for addr, rec := range l.traders {
		timeout := l.cfg.InactivityTimeout * tierMultiplier(rec.Tier)

		for mint, market := range rec.Markets {
			inactive := now.Sub(market.LastActive) > timeout
			tooBad := market.BadScore >= l.cfg.MaxBadScore
			if inactive || tooBad {
				delete(rec.Markets, mint)
				removedMarkets++
			}
		}

		stale := now.Sub(rec.LastActive) > timeout
		if len(rec.Markets) == 0 && stale && !l.tracking.IsExempt(addr) {
			delete(l.traders, addr)
			removedTraders++
		}
	}
	remaining := len(l.traders)

	l.mu.Unlock()

	// Notify outside the lock; the collaborator may call back in.
	for _, addr := range evicted {
		l.tracking.OnEvicted(addr)
	}

	if removedTraders > 0 || removedMarkets > 0 {
		l.logger.Printf("gc removed %d traders and %d markets (%d traders left)",
			removedTraders, removedMarkets, remaining)
	}
}
