package copier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingTracker_SweepsStaleOrders(t *testing.T) {
	p := newPendingTracker(10 * time.Minute)
	t0 := time.Unix(1700000000, 0)

	p.add("old", true, t0)
	p.add("fresh", false, t0.Add(5*time.Minute))
	require.Equal(t, 2, p.len())

	// Adding past the timeout sweeps the stale entry.
	p.add("new", true, t0.Add(10*time.Minute))
	assert.Equal(t, 2, p.len())

	_, ok := p.get("old")
	assert.False(t, ok)
	o, ok := p.get("fresh")
	require.True(t, ok)
	assert.False(t, o.isBuy)
}
