// Package sourcing discovers traders worth monitoring. When a token
// graduates to the AMM it fetches the token's top holders from the
// metadata API and seeds them into the PnL ledger.
package sourcing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/newben420/kolt/internal/domain"
	"github.com/newben420/kolt/internal/execution"
)

// Registry receives the discovered trader addresses.
type Registry interface {
	NewTrader(address string)
}

// Notifier delivers fire-and-forget operator notifications.
type Notifier interface {
	Notify(text string)
}

// Config holds the sourcer tunables.
type Config struct {
	// APIBase is the token metadata API root.
	APIBase string
	// MaxTopHolders caps how many holders are seeded per migration.
	MaxTopHolders int
	// HTTPTimeout bounds the holders request. Defaults to 15 seconds.
	HTTPTimeout time.Duration
}

// Sourcer seeds the ledger from token migrations.
type Sourcer struct {
	cfg      Config
	registry Registry
	notifier Notifier
	client   *http.Client
	logger   *log.Logger

	mu             sync.Mutex
	tokensMigrated int
	tradersAdded   int
}

// New creates a Sourcer. notifier may be nil.
func New(cfg Config, registry Registry, notifier Notifier, logger *log.Logger) *Sourcer {
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[sourcing] ", log.LstdFlags)
	}
	return &Sourcer{
		cfg:      cfg,
		registry: registry,
		notifier: notifier,
		client:   &http.Client{Timeout: cfg.HTTPTimeout},
		logger:   logger,
	}
}

// OnMigration seeds the ledger with the migrated token's top holders.
func (s *Sourcer) OnMigration(ctx context.Context, ev *domain.MigrationEvent) {
	if ev.Mint == "" {
		return
	}

	s.mu.Lock()
	s.tokensMigrated++
	s.mu.Unlock()

	holders, err := s.topHolders(ctx, ev.Mint)
	if err != nil {
		s.logger.Printf("top holders for %s: %v", ev.Mint, err)
		s.notifier.Notify(fmt.Sprintf("Sourcing failed\nMint: %s\n%v", ev.Mint, err))
		return
	}
	if len(holders) == 0 {
		s.logger.Printf("no holders found for %s", ev.Mint)
		s.notifier.Notify(fmt.Sprintf("Sourcing failed\nMint: %s\nNo holder addresses found", ev.Mint))
		return
	}

	for _, addr := range holders {
		s.registry.NewTrader(addr)
	}

	s.mu.Lock()
	s.tradersAdded += len(holders)
	s.mu.Unlock()

	s.logger.Printf("seeded %d holders from %s", len(holders), ev.Mint)
}

// Stats returns how many migrations were processed and traders seeded.
func (s *Sourcer) Stats() (tokensMigrated, tradersAdded int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokensMigrated, s.tradersAdded
}

type holdersResponse struct {
	Holders []struct {
		Address string  `json:"address"`
		Amount  float64 `json:"amount"`
	} `json:"holders"`
}

// topHolders fetches the token's holders and returns the largest ones,
// biggest first. Only addresses that decode to on-curve public keys are
// kept; that drops malformed entries along with program-derived accounts
// like the pool vault, which hold tokens but are not traders.
func (s *Sourcer) topHolders(ctx context.Context, mint string) ([]string, error) {
	url := fmt.Sprintf("%s/coins/holders/%s", s.cfg.APIBase, mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("holders request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("holders endpoint status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read holders: %w", err)
	}

	var parsed holdersResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode holders: %w", err)
	}

	sort.SliceStable(parsed.Holders, func(i, j int) bool {
		return parsed.Holders[i].Amount > parsed.Holders[j].Amount
	})

	addresses := make([]string, 0, len(parsed.Holders))
	for _, h := range parsed.Holders {
		if !execution.IsOnCurve(h.Address) {
			continue
		}
		addresses = append(addresses, h.Address)
		if len(addresses) == s.cfg.MaxTopHolders {
			break
		}
	}
	return addresses, nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}
