package domain

// ExitRule is a static take-profit / stop-loss / copy-sell exit rule.
// TriggerValue is a PnL percentage: positive values are take-profit
// thresholds, zero or negative values are stop-loss thresholds.
type ExitRule struct {
	SellPercentage float64 // percent of held amount to sell when fired
	TriggerByCopy  bool    // fire only when the copied trader itself sells
	TriggerValue   float64 // signed PnL% threshold
}

// PeakDropRule is a static trailing-stop exit rule keyed on drawdown from
// the position's best-ever PnL%. It is only eligible while the current
// PnL% lies within [MinPnLPerc, MaxPnLPerc].
type PeakDropRule struct {
	MinDropPerc    float64 // minimum drawdown from peak, in PnL points
	MinPnLPerc     float64 // lower bound of the eligibility band
	MaxPnLPerc     float64 // upper bound of the eligibility band
	SellPercentage float64 // percent of held amount to sell when fired
}
