package copier

import (
	"context"
	"fmt"

	"github.com/newben420/kolt/internal/domain"
)

// runExitRules evaluates the configured exit rules against the freshly
// marked position and fires at most one sale. Copy-triggered rules fire
// when the copied trader itself sells on the market with PnL at or above
// the trigger value; threshold rules compare current PnL against the
// signed trigger value (positive is a take-profit floor, non-positive a
// stop-loss ceiling). Each rule index
// fires at most once per position; a failed submission un-fires the
// index so it can retry on the next event.
func (e *Engine) runExitRules(ctx context.Context, ev *domain.TradeEvent) bool {
	for i, rule := range e.cfg.ExitRules {
		e.mu.Lock()
		pos, ok := e.positions[ev.Mint]
		if !ok || pos.AmountHeld <= 0 {
			e.mu.Unlock()
			return false
		}
		if pos.sellIndices[i] {
			e.mu.Unlock()
			continue
		}

		var fired bool
		var prefix string
		switch {
		case rule.TriggerByCopy:
			fired = ev.Side == domain.SideSell && ev.Trader == pos.CopiedFrom &&
				pos.PnL >= rule.TriggerValue
			prefix = domain.ReasonCopySell
		case rule.TriggerValue > 0:
			fired = pos.PnL >= rule.TriggerValue
			prefix = domain.ReasonTakeProfit
		default:
			fired = pos.PnL <= rule.TriggerValue
			prefix = domain.ReasonStopLoss
		}
		if !fired {
			e.mu.Unlock()
			continue
		}
		pos.sellIndices[i] = true
		e.mu.Unlock()

		reason := fmt.Sprintf("%s %d", prefix, i)
		if e.Sell(ctx, ev.Mint, rule.SellPercentage, reason, ev.PriceSol) {
			return true
		}

		e.mu.Lock()
		if pos, ok := e.positions[ev.Mint]; ok {
			delete(pos.sellIndices, i)
		}
		e.mu.Unlock()
	}
	return false
}

// runPeakDropRules fires the first matching trailing rule: the position
// has retreated at least MinDropPerc from its peak while the current PnL
// sits inside the rule's [MinPnLPerc, MaxPnLPerc] band. Same
// once-per-index and un-fire-on-failure behavior as exit rules.
func (e *Engine) runPeakDropRules(ctx context.Context, ev *domain.TradeEvent) bool {
	for i, rule := range e.cfg.PeakDropRules {
		e.mu.Lock()
		pos, ok := e.positions[ev.Mint]
		if !ok || pos.AmountHeld <= 0 {
			e.mu.Unlock()
			return false
		}
		if pos.pdIndices[i] {
			e.mu.Unlock()
			continue
		}

		drop := pos.PeakPnL - pos.PnL
		fired := drop >= rule.MinDropPerc &&
			pos.PnL >= rule.MinPnLPerc &&
			pos.PnL <= rule.MaxPnLPerc
		if !fired {
			e.mu.Unlock()
			continue
		}
		pos.pdIndices[i] = true
		e.mu.Unlock()

		if e.Sell(ctx, ev.Mint, rule.SellPercentage, fmt.Sprintf("%s %d", domain.ReasonPeakDrop, i), ev.PriceSol) {
			return true
		}

		e.mu.Lock()
		if pos, ok := e.positions[ev.Mint]; ok {
			delete(pos.pdIndices, i)
		}
		e.mu.Unlock()
	}
	return false
}
