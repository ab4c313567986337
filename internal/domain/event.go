package domain

// TradeEvent is a normalized trade delivered by the market data feed.
// One event describes a single swap by some wallet on some token market.
type TradeEvent struct {
	Trader       string  // wallet that made the trade
	Mint         string  // token mint the market is keyed by
	Side         string  // "buy" | "sell"
	SolAmount    float64 // SOL paid (buy) or received (sell)
	TokenAmount  float64 // token amount bought or sold
	PriceSol     float64 // execution price in SOL per token
	MarketCapSol float64 // market cap in SOL at event time
	Venue        string  // venue/pool label the trade executed on
	PoolAddress  string  // on-chain pool account
	Signature    string  // transaction signature
	LatencyMs    int64   // feed-reported delivery latency
}

// Trade side constants
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// MigrationEvent signals a token graduating to its trading venue.
// Top holders of migrated tokens are used to seed the trader ledger.
type MigrationEvent struct {
	Mint      string
	Venue     string // destination pool the token graduated to
	Signature string
}

// Fill is a confirmation that one of the bot's own orders executed.
// It arrives on the same feed as TradeEvent, filtered by the bot's wallet.
type Fill struct {
	Signature    string
	Mint         string
	Side         string // "buy" | "sell"
	TokenAmount  float64
	SolAmount    float64
	PriceSol     float64
	MarketCapSol float64
	Venue        string
}
