package domain

// ClosedPosition is the final snapshot of a fully closed copy position.
// It is what the journal persists and what close notifications are built
// from.
type ClosedPosition struct {
	Mint          string
	CopiedFrom    string
	Venue         string
	BuyCapital    float64 // SOL committed at entry
	ReturnsSol    float64 // proceeds - capital
	PnLPerc       float64 // final PnL%
	PeakPnLPerc   float64 // best PnL% seen while open
	LeastPnLPerc  float64 // worst PnL% seen while open
	Sells         int     // number of partial sells
	SellReasons   string  // comma-joined reason codes
	DurationMs    int64   // last sell - buy time
	BuyLatencyMs  int64
	AvgSellLatMs  int64
	FinalPrice    float64
	FinalMktCap   float64
	ClosedAtMs    int64
}

// Sell reason code prefixes. A fired rule tags its sale with the prefix
// plus the rule's index, e.g. "TP 0", "PD 2".
const (
	ReasonCopySell   = "Copy"
	ReasonTakeProfit = "TP"
	ReasonStopLoss   = "SL"
	ReasonPeakDrop   = "PD"
)
