package copier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRanking_SortedDescending(t *testing.T) {
	r := newRankingTable(10)
	r.record("low", 1, 1)
	r.record("high", 5, 5)
	r.record("mid", 3, 3)

	top := r.top()
	require.Len(t, top, 3)
	assert.Equal(t, "high", top[0].Address)
	assert.Equal(t, "mid", top[1].Address)
	assert.Equal(t, "low", top[2].Address)
}

func TestRanking_AccumulatesPerTrader(t *testing.T) {
	r := newRankingTable(10)
	r.record("a", 2, 2)
	r.record("a", 3, 3)
	r.record("a", -1, -1)

	top := r.top()
	require.Len(t, top, 1)
	assert.InDelta(t, 4, top[0].PnL, 1e-9)
	assert.Equal(t, 3, top[0].Positions)
	assert.Equal(t, 2, top[0].Wins)
	assert.Equal(t, 1, top[0].Losses)
	assert.InDelta(t, 5, top[0].WinPnL, 1e-9)
	assert.InDelta(t, -1, top[0].LossPnL, 1e-9)
}

func TestRanking_NegativeTotalRemoved(t *testing.T) {
	r := newRankingTable(10)
	r.record("a", 2, 2)
	r.record("a", -5, -5)

	assert.Empty(t, r.top())
}

// A trader removed for a negative total restarts from zero when copied
// again, rather than resuming the old deficit.
func TestRanking_RemovedTraderStartsFresh(t *testing.T) {
	r := newRankingTable(10)
	r.record("a", 2, 2)
	r.record("a", -5, -5)
	r.record("a", 1, 1)

	top := r.top()
	require.Len(t, top, 1)
	assert.InDelta(t, 1, top[0].PnL, 1e-9)
	assert.Equal(t, 1, top[0].Positions)
}

func TestRanking_BoundedAtMax(t *testing.T) {
	r := newRankingTable(2)
	r.record("a", 1, 1)
	r.record("b", 3, 3)
	r.record("c", 2, 2)

	top := r.top()
	require.Len(t, top, 2)
	assert.Equal(t, "b", top[0].Address)
	assert.Equal(t, "c", top[1].Address)
}

func TestRanking_BreakEvenCountsNeitherWinNorLoss(t *testing.T) {
	r := newRankingTable(10)
	r.record("a", 0, 0)

	top := r.top()
	require.Len(t, top, 1)
	assert.Equal(t, 0, top[0].Wins)
	assert.Equal(t, 0, top[0].Losses)
	assert.Equal(t, 1, top[0].Positions)
}
