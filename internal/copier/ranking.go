package copier

// RankingEntry tracks how much the bot has earned copying one trader.
type RankingEntry struct {
	Address   string
	PnL       float64 // cumulative attributed PnL in SOL
	Positions int
	Wins      int
	Losses    int
	WinPnL    float64
	LossPnL   float64
}

// rankingTable is a bounded leaderboard of source traders ordered
// descending by cumulative attributed PnL. Guarded by the engine's mutex.
type rankingTable struct {
	entries []RankingEntry
	max     int
}

func newRankingTable(max int) *rankingTable {
	return &rankingTable{max: max}
}

// record folds one closed position into the trader's entry. attributed is
// the PnL credited to the trader (realized or peak-implied, per config);
// returns is the actual realized SOL return, which decides win/loss.
//
// The prior entry is always removed first. It is reinserted in sorted
// position only while the cumulative PnL stays non-negative; a trader
// whose total drops below zero disappears from the table and, if copied
// again later, starts accumulating from scratch.
func (r *rankingTable) record(address string, attributed, returns float64) {
	entry := RankingEntry{Address: address}
	for i, e := range r.entries {
		if e.Address == address {
			entry = e
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}

	entry.PnL += attributed
	entry.Positions++
	if returns > 0 {
		entry.Wins++
		entry.WinPnL += attributed
	} else if returns < 0 {
		entry.Losses++
		entry.LossPnL += returns
	}

	if entry.PnL < 0 {
		return
	}

	insertAt := len(r.entries)
	for i, e := range r.entries {
		if e.PnL < entry.PnL {
			insertAt = i
			break
		}
	}
	r.entries = append(r.entries, RankingEntry{})
	copy(r.entries[insertAt+1:], r.entries[insertAt:])
	r.entries[insertAt] = entry

	if len(r.entries) > r.max {
		r.entries = r.entries[:r.max]
	}
}

// top returns a copy of the table.
func (r *rankingTable) top() []RankingEntry {
	out := make([]RankingEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
