package copier

import "time"

// pendingOrder is an in-flight signed order awaiting confirmation.
type pendingOrder struct {
	submittedAt time.Time
	isBuy       bool
}

// pendingTracker tracks submitted orders by transaction signature. An
// order that never confirms is treated as abandoned and swept after the
// timeout. The tracker is guarded by the engine's mutex.
type pendingTracker struct {
	orders  map[string]pendingOrder
	timeout time.Duration
}

func newPendingTracker(timeout time.Duration) *pendingTracker {
	return &pendingTracker{
		orders:  make(map[string]pendingOrder),
		timeout: timeout,
	}
}

// add registers a submitted order and opportunistically sweeps stale ones.
func (p *pendingTracker) add(signature string, isBuy bool, now time.Time) {
	p.orders[signature] = pendingOrder{submittedAt: now, isBuy: isBuy}
	p.sweep(now)
}

func (p *pendingTracker) get(signature string) (pendingOrder, bool) {
	o, ok := p.orders[signature]
	return o, ok
}

func (p *pendingTracker) remove(signature string) {
	delete(p.orders, signature)
}

func (p *pendingTracker) len() int {
	return len(p.orders)
}

// sweep drops orders older than the timeout; their confirmations, should
// they still arrive, become no-ops.
func (p *pendingTracker) sweep(now time.Time) {
	for sig, o := range p.orders {
		if now.Sub(o.submittedAt) >= p.timeout {
			delete(p.orders, sig)
		}
	}
}
