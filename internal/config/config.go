// Package config loads runtime configuration from the environment.
// A .env file may be supplied on the command line; real environment
// variables always win over file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/newben420/kolt/internal/domain"
)

// Config holds every tunable the engines consume. All values have working
// defaults so the bot can start in simulation mode with an empty env.
type Config struct {
	Title string
	Port  int

	// Feed
	WSURL            string
	WSReconnectDelay time.Duration

	// Solana RPC and metadata API
	RPCURL     string
	MetaAPIURL string
	PrivateKey string // JSON byte array or base58-encoded secret key

	// Sourcing
	MaxTopHolders int

	// Ledger
	BadPnLThreshold   float64
	MaxBadScore       int
	MemoryCap         int
	InactivityTimeout time.Duration
	GCInterval        time.Duration

	// Tracker
	TrackerInterval          time.Duration
	TrackerMaxTraders        int
	TrackerInactivityTimeout time.Duration
	TrackerSendAutoAdd       bool
	TrackerSendAutoRemove    bool
	TrackerSendActivity      bool

	// Copier
	Simulation             bool
	CapitalSol             float64
	MinCopySol             float64
	MinMarketCapSol        float64
	AllowedVenue           string // empty means any venue
	BuySlippagePerc        float64
	SellSlippagePerc       float64
	SkipPreflight          bool
	FeesPerTradeSol        float64
	MaxConcurrentPositions int
	ExitRules              []domain.ExitRule
	PeakDropRules          []domain.PeakDropRule
	RankingMax             int
	RankByPeakPnL          bool
	AutoExit               bool
	AutoPeakDrop           bool
	AutoAlert              bool

	// Telegram
	TelegramToken  string
	TelegramChatID string

	// Storage (both optional; empty DSN disables the sink)
	PostgresDSN   string
	ClickhouseDSN string
}

// Load reads configuration from envPath (if non-empty) and the process
// environment.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envPath, err)
		}
	} else {
		// Best effort: a missing default .env is fine.
		_ = godotenv.Load()
	}

	cfg := &Config{
		Title: envStr("TITLE", "Kolt"),
		Port:  envInt("PORT", 3000),

		WSURL:            envStr("WS_URL", "wss://pumpportal.fun/api/data"),
		WSReconnectDelay: envDurationMs("WS_RECON_DELAY_MS", 5*time.Second),

		RPCURL:     envStr("RPC", "https://api.mainnet-beta.solana.com"),
		MetaAPIURL: envStr("PF_API", "https://frontend-api-v3.pump.fun"),
		PrivateKey: envStr("PRIVATE_KEY", ""),

		MaxTopHolders: envInt("MAX_TOP_HOLDERS", 10),

		BadPnLThreshold:   envFloat("MN_BAD_PNL_THRESHOLD", -0.2),
		MaxBadScore:       envInt("MN_MAX_BAD_SCORE", 3),
		MemoryCap:         envInt("MN_MEMORY_CAP", 5000),
		InactivityTimeout: envDurationMs("MN_INACTIVITY_TIMEOUT_MS", 30*time.Minute),
		GCInterval:        envDurationMs("MN_GARBAGE_INTERVAL_MS", 3*time.Minute),

		TrackerInterval:          envDurationMs("TR_INTERVAL_MS", 3*time.Minute),
		TrackerMaxTraders:        envInt("TR_MAX_TRADERS", 30),
		TrackerInactivityTimeout: envDurationMs("TR_INACTIVITY_TIMEOUT_MS", 30*time.Minute),
		TrackerSendAutoAdd:       envBool("TR_SEND_AUTO_ADD"),
		TrackerSendAutoRemove:    envBool("TR_SEND_AUTO_REM"),
		TrackerSendActivity:      envBool("TR_SEND_ACTIVITY"),

		Simulation:             envBool("CP_SIMULATION"),
		CapitalSol:             envFloat("CP_CAPITAL_SOL", 0),
		MinCopySol:             envFloat("CP_MIN_COPY_SOL", 0),
		MinMarketCapSol:        envFloat("CP_MIN_MARKETCAP_SOL", 0),
		AllowedVenue:           envStr("CP_ALLOWED_POOL", ""),
		BuySlippagePerc:        envFloat("CP_BUY_SLIPPAGE_PERC", 0),
		SellSlippagePerc:       envFloat("CP_SELL_SLIPPAGE_PERC", 0),
		SkipPreflight:          envBool("CP_SKIP_PREFLIGHT"),
		FeesPerTradeSol:        envFloat("CP_FEES_PER_TRADE_SOL", 0.000005),
		MaxConcurrentPositions: envInt("CP_MAX_CONCURRENT_POSITIONS", 10),
		ExitRules:              ParseExitRules(os.Getenv("CP_EXIT_CONFIG")),
		PeakDropRules:          ParsePeakDropRules(os.Getenv("CP_PEAK_DROP_CONFIG")),
		RankingMax:             envInt("CP_EARN_RANKING_MAX", 20),
		RankByPeakPnL:          envBool("CP_EARN_RANKING_BY_PEAK_PNL"),
		AutoExit:               envBool("CP_AUTO_EXIT"),
		AutoPeakDrop:           envBool("CP_AUTO_PEAKDROP"),
		AutoAlert:              envBool("CP_AUTO_ALERT"),

		TelegramToken:  envStr("TG_TOKEN", ""),
		TelegramChatID: envStr("TG_CHAT_ID", ""),

		PostgresDSN:   envStr("POSTGRES_DSN", ""),
		ClickhouseDSN: envStr("CLICKHOUSE_DSN", ""),
	}

	return cfg, nil
}

// ParseExitRules parses the pipe-separated exit rule list. Each rule is
// three space-separated fields: "sellPerc triggerByCopy triggerValue",
// e.g. "50 false 30|25 true 10|100 false -40". Malformed entries are
// dropped; a rule must sell (0,100]% and carry a non-zero trigger ≥ -100.
func ParseExitRules(raw string) []domain.ExitRule {
	var rules []domain.ExitRule
	for _, part := range strings.Split(strings.ToLower(raw), "|") {
		fields := strings.Fields(part)
		if len(fields) != 3 {
			continue
		}
		sellPerc, err1 := strconv.ParseFloat(fields[0], 64)
		trigger, err2 := strconv.ParseFloat(fields[2], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if sellPerc <= 0 || sellPerc > 100 || trigger < -100 || trigger == 0 {
			continue
		}
		if fields[1] != "true" && fields[1] != "false" {
			continue
		}
		rules = append(rules, domain.ExitRule{
			SellPercentage: sellPerc,
			TriggerByCopy:  fields[1] == "true",
			TriggerValue:   trigger,
		})
	}
	return rules
}

// ParsePeakDropRules parses the pipe-separated peak-drop rule list. Each
// rule is four space-separated fields:
// "minDropPerc minPnLPerc maxPnLPerc sellPerc", e.g. "10 5 50 100".
func ParsePeakDropRules(raw string) []domain.PeakDropRule {
	var rules []domain.PeakDropRule
	for _, part := range strings.Split(raw, "|") {
		fields := strings.Fields(part)
		if len(fields) != 4 {
			continue
		}
		minDrop, err1 := strconv.ParseFloat(fields[0], 64)
		minPnL, err2 := strconv.ParseFloat(fields[1], 64)
		maxPnL, err3 := strconv.ParseFloat(fields[2], 64)
		sellPerc, err4 := strconv.ParseFloat(fields[3], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		if sellPerc <= 0 || sellPerc > 100 || minDrop <= 0 || minPnL > maxPnL {
			continue
		}
		rules = append(rules, domain.PeakDropRule{
			MinDropPerc:    minDrop,
			MinPnLPerc:     minPnL,
			MaxPnLPerc:     maxPnL,
			SellPercentage: sellPerc,
		})
	}
	return rules
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v != 0 {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && v != 0 {
		return v
	}
	return def
}

func envBool(key string) bool {
	return strings.EqualFold(os.Getenv(key), "true")
}

func envDurationMs(key string, def time.Duration) time.Duration {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return time.Duration(v) * time.Millisecond
	}
	return def
}
