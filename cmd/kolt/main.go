// Package main runs the copy-trading bot: the pumpportal feed streams
// trades and migrations, the sourcer seeds the PnL ledger from migrated
// tokens, the tracker follows the best performers, and the copy engine
// mirrors their entries with the bot's capital.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newben420/kolt/internal/config"
	"github.com/newben420/kolt/internal/copier"
	"github.com/newben420/kolt/internal/domain"
	"github.com/newben420/kolt/internal/execution"
	"github.com/newben420/kolt/internal/feed"
	"github.com/newben420/kolt/internal/ledger"
	"github.com/newben420/kolt/internal/notify"
	"github.com/newben420/kolt/internal/observability"
	"github.com/newben420/kolt/internal/solana"
	"github.com/newben420/kolt/internal/sourcing"
	"github.com/newben420/kolt/internal/storage"
	chstore "github.com/newben420/kolt/internal/storage/clickhouse"
	"github.com/newben420/kolt/internal/storage/memory"
	"github.com/newben420/kolt/internal/storage/migrations"
	pgstore "github.com/newben420/kolt/internal/storage/postgres"
	"github.com/newben420/kolt/internal/tracker"
)

func main() {
	envPath := flag.String("env", "", "Path to .env file (optional)")
	flag.Parse()

	logger := log.New(os.Stdout, "[kolt] ", log.LstdFlags)

	cfg, err := config.Load(*envPath)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Notifier
	var notifier notify.Notifier = notify.Nop{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		notifier = notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID,
			log.New(os.Stdout, "[notify] ", log.LstdFlags))
	}

	// Storage sinks
	journal, archive, cleanup, err := createStores(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()
	journal = instrumentedJournal{journal}

	// Execution layer. Simulation mode needs neither wallet nor RPC.
	var (
		orders    copier.Orders
		recovery  copier.Recovery
		walletPub string
	)
	if !cfg.Simulation {
		if cfg.PrivateKey == "" {
			logger.Fatal("PRIVATE_KEY is required outside simulation mode")
		}
		wallet, err := execution.NewWalletFromBase58(cfg.PrivateKey)
		if err != nil {
			logger.Fatalf("Failed to load wallet: %v", err)
		}
		walletPub = wallet.PublicKey()

		rpc := instrumentedRPC{solana.NewHTTPClient(cfg.RPCURL)}
		orders = instrumentedOrders{execution.NewSubmitter(execution.OrderConfig{
			TradeURL:         "https://pumpportal.fun/api/trade-local",
			BuySlippagePerc:  cfg.BuySlippagePerc,
			SellSlippagePerc: cfg.SellSlippagePerc,
			SkipPreflight:    cfg.SkipPreflight,
		}, wallet, rpc, log.New(os.Stdout, "[orders] ", log.LstdFlags))}
		recovery = execution.NewRentRecovery(wallet, rpc,
			log.New(os.Stdout, "[recovery] ", log.LstdFlags))

		logger.Printf("Live mode, wallet %s", walletPub)
	} else {
		logger.Println("Simulation mode, orders are synthesized")
	}

	// Ledger and tracker reference each other through the bridge: the
	// tracker exempts followed wallets from ledger GC, and the ledger
	// drives feed subscriptions as traders come and go.
	bridge := &trackingBridge{}
	led := ledger.New(ledger.Config{
		BadPnLThreshold:   cfg.BadPnLThreshold,
		MaxBadScore:       cfg.MaxBadScore,
		MemoryCap:         cfg.MemoryCap,
		InactivityTimeout: cfg.InactivityTimeout,
		GCInterval:        cfg.GCInterval,
	}, bridge, log.New(os.Stdout, "[ledger] ", log.LstdFlags))

	track := tracker.New(tracker.Config{
		MaxAutoTraders:    cfg.TrackerMaxTraders,
		Interval:          cfg.TrackerInterval,
		InactivityTimeout: cfg.TrackerInactivityTimeout,
		SendActivity:      cfg.TrackerSendActivity,
		SendAutoAdd:       cfg.TrackerSendAutoAdd,
		SendAutoRemove:    cfg.TrackerSendAutoRemove,
	}, led, notifier, log.New(os.Stdout, "[tracker] ", log.LstdFlags))
	bridge.tracker = track

	engine := copier.New(copier.Config{
		Simulation:             cfg.Simulation,
		CapitalSol:             cfg.CapitalSol,
		MinCopySol:             cfg.MinCopySol,
		MinMarketCapSol:        cfg.MinMarketCapSol,
		AllowedVenue:           cfg.AllowedVenue,
		MaxConcurrentPositions: cfg.MaxConcurrentPositions,
		FeesPerTradeSol:        cfg.FeesPerTradeSol,
		ExitRules:              cfg.ExitRules,
		PeakDropRules:          cfg.PeakDropRules,
		RankingMax:             cfg.RankingMax,
		RankByPeakPnL:          cfg.RankByPeakPnL,
		AutoExit:               cfg.AutoExit,
		AutoPeakDrop:           cfg.AutoPeakDrop,
		AutoAlert:              cfg.AutoAlert,
	}, led, orders, recovery, notifier, journal,
		log.New(os.Stdout, "[copier] ", log.LstdFlags))

	sourcer := sourcing.New(sourcing.Config{
		APIBase:       cfg.MetaAPIURL,
		MaxTopHolders: cfg.MaxTopHolders,
	}, led, notifier, log.New(os.Stdout, "[sourcing] ", log.LstdFlags))

	arch := newArchiver(archive, log.New(os.Stdout, "[archive] ", log.LstdFlags))
	go arch.run(ctx)

	sink := &eventSink{
		ctx:       ctx,
		walletPub: walletPub,
		ledger:    led,
		tracker:   track,
		engine:    engine,
		sourcer:   sourcer,
		archiver:  arch,
	}

	feedCfg := feed.DefaultConfig(cfg.WSURL)
	if cfg.WSReconnectDelay > 0 {
		feedCfg.ReconnectDelay = cfg.WSReconnectDelay
	}
	feedCfg.OnReconnect = observability.DefaultMetrics.FeedReconnects.Inc
	feedClient, err := feed.New(ctx, feedCfg, sink, log.New(os.Stdout, "[feed] ", log.LstdFlags))
	if err != nil {
		logger.Fatalf("Failed to connect feed: %v", err)
	}
	defer feedClient.Close()
	bridge.feed = feedClient

	if err := feedClient.SubscribeMigrations(); err != nil {
		logger.Fatalf("Failed to subscribe migrations: %v", err)
	}
	if walletPub != "" {
		if err := feedClient.SubscribeAccountTrades(walletPub); err != nil {
			logger.Fatalf("Failed to subscribe own wallet: %v", err)
		}
	}

	led.Start()
	defer led.Stop()
	track.Start()
	defer track.Stop()

	go runGaugeUpdater(ctx, led, engine)

	// HTTP surface: health, metrics, status
	srv := startHTTPServer(cfg.Port, led, track, engine, logger)
	defer srv.Shutdown(context.Background())

	notifier.Notify(fmt.Sprintf("%s started", cfg.Title))
	logger.Printf("%s running on port %d", cfg.Title, cfg.Port)

	// Shutdown signals; a second signal forces exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Printf("Received signal %v, shutting down...", sig)
	cancel()

	go func() {
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing exit", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		}
	}()

	notifier.Notify(fmt.Sprintf("%s shutting down", cfg.Title))
	logger.Println("Shutdown complete")
}

// createStores builds the position journal and event archive. Empty DSNs
// fall back to in-memory implementations.
func createStores(ctx context.Context, cfg *config.Config) (storage.PositionJournal, storage.EventArchive, func(), error) {
	var (
		journal storage.PositionJournal = memory.NewPositionJournal()
		archive storage.EventArchive    = memory.NewEventArchive()
		closers []func()
	)

	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		journal = pgstore.NewPositionJournalStore(pool)
		closers = append(closers, pool.Close)
	}

	if cfg.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		archive = chstore.NewEventArchiveStore(conn)
		closers = append(closers, func() { conn.Close() })
	}

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return journal, archive, cleanup, nil
}

// eventSink routes feed events to the engines in a fixed order:
// archive, own-fill detection, tracker, ledger accounting, position
// mark-to-market, then entry consideration.
type eventSink struct {
	ctx       context.Context
	walletPub string
	ledger    *ledger.Ledger
	tracker   *tracker.Tracker
	engine    *copier.Engine
	sourcer   *sourcing.Sourcer
	archiver  *archiver
}

func (s *eventSink) OnTrade(ev *domain.TradeEvent) {
	observability.RecordTradeEvent(ev.LatencyMs)
	s.archiver.enqueue(ev)

	if s.walletPub != "" && ev.Trader == s.walletPub {
		s.engine.OnOwnFill(s.ctx, &domain.Fill{
			Signature:    ev.Signature,
			Mint:         ev.Mint,
			Side:         ev.Side,
			TokenAmount:  ev.TokenAmount,
			SolAmount:    ev.SolAmount,
			PriceSol:     ev.PriceSol,
			MarketCapSol: ev.MarketCapSol,
			Venue:        ev.Venue,
		})
		return
	}

	s.tracker.OnTrade(ev)
	s.ledger.RecordTrade(ev)
	s.engine.OnMarketEvent(s.ctx, ev)

	if ev.Side == domain.SideBuy && s.tracker.Exists(ev.Trader) {
		s.engine.TryEnterCopy(s.ctx, ev.Trader, ev.Mint, ev.SolAmount, ev.PriceSol, ev.MarketCapSol, ev.Venue)
	}
}

func (s *eventSink) OnMigration(ev *domain.MigrationEvent) {
	observability.RecordMigration()
	go s.sourcer.OnMigration(s.ctx, ev)
}

// trackingBridge wires the ledger's tracking collaborator to the tracker
// and the feed. Fields are set during startup, before the ledger's GC
// loop starts.
type trackingBridge struct {
	tracker *tracker.Tracker
	feed    *feed.Client
}

func (b *trackingBridge) IsExempt(address string) bool {
	return b.tracker != nil && b.tracker.IsExempt(address)
}

func (b *trackingBridge) OnNewlyTracked(address string) {
	if b.feed != nil {
		if err := b.feed.SubscribeAccountTrades(address); err != nil {
			log.Printf("subscribe %s: %v", address, err)
		}
	}
}

func (b *trackingBridge) OnEvicted(address string) {
	observability.DefaultMetrics.TradersRemoved.Inc()
	if b.feed != nil && (b.tracker == nil || !b.tracker.Exists(address)) {
		if err := b.feed.UnsubscribeAccountTrades(address); err != nil {
			log.Printf("unsubscribe %s: %v", address, err)
		}
	}
}

// instrumentedOrders counts order submissions and failures.
type instrumentedOrders struct {
	inner copier.Orders
}

func (o instrumentedOrders) Submit(ctx context.Context, action, mint, amount string) (string, error) {
	sig, err := o.inner.Submit(ctx, action, mint, amount)
	observability.RecordOrder(action, err)
	return sig, err
}

// instrumentedRPC times every RPC call by method.
type instrumentedRPC struct {
	inner solana.RPCClient
}

func (r instrumentedRPC) SendTransaction(ctx context.Context, txBase64 string, skipPreflight bool) (string, error) {
	start := time.Now()
	sig, err := r.inner.SendTransaction(ctx, txBase64, skipPreflight)
	observability.RecordRPCLatency("sendTransaction", time.Since(start).Seconds())
	return sig, err
}

func (r instrumentedRPC) GetBalance(ctx context.Context, pubkey string) (uint64, error) {
	start := time.Now()
	bal, err := r.inner.GetBalance(ctx, pubkey)
	observability.RecordRPCLatency("getBalance", time.Since(start).Seconds())
	return bal, err
}

func (r instrumentedRPC) GetLatestBlockhash(ctx context.Context) (string, error) {
	start := time.Now()
	hash, err := r.inner.GetLatestBlockhash(ctx)
	observability.RecordRPCLatency("getLatestBlockhash", time.Since(start).Seconds())
	return hash, err
}

func (r instrumentedRPC) GetTokenAccountsByOwner(ctx context.Context, owner string) ([]solana.TokenAccount, error) {
	start := time.Now()
	accounts, err := r.inner.GetTokenAccountsByOwner(ctx, owner)
	observability.RecordRPCLatency("getTokenAccountsByOwner", time.Since(start).Seconds())
	return accounts, err
}

// instrumentedJournal counts closed positions as they are journaled.
type instrumentedJournal struct {
	storage.PositionJournal
}

func (j instrumentedJournal) Insert(ctx context.Context, p *domain.ClosedPosition) error {
	observability.RecordPositionClosed(p.ReturnsSol)
	return j.PositionJournal.Insert(ctx, p)
}

// archiver batches trade events into the event archive. Events are
// dropped rather than blocking the feed when the sink falls behind.
type archiver struct {
	store  storage.EventArchive
	ch     chan *domain.TradeEvent
	logger *log.Logger
}

func newArchiver(store storage.EventArchive, logger *log.Logger) *archiver {
	return &archiver{
		store:  store,
		ch:     make(chan *domain.TradeEvent, 4096),
		logger: logger,
	}
}

func (a *archiver) enqueue(ev *domain.TradeEvent) {
	select {
	case a.ch <- ev:
	default:
	}
}

func (a *archiver) run(ctx context.Context) {
	const maxBatch = 200

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var batch []*domain.TradeEvent
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := a.store.InsertBulk(context.Background(), batch); err != nil {
			a.logger.Printf("archive %d events: %v", len(batch), err)
		}
		batch = nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case ev := <-a.ch:
			batch = append(batch, ev)
			if len(batch) >= maxBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// runGaugeUpdater refreshes the engine gauges and uptime counter.
func runGaugeUpdater(ctx context.Context, led *ledger.Ledger, engine *copier.Engine) {
	const interval = 15 * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := engine.Stats()
			observability.UpdateEngineGauges(led.Count(), stats.OpenPositions, stats.TotalRealizedSol)
			observability.DefaultMetrics.UptimeSeconds.Add(interval.Seconds())
		}
	}
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status           string                `json:"status"`
	Uptime           string                `json:"uptime"`
	TrackedTraders   int                   `json:"tracked_traders"`
	EvictedTraders   int                   `json:"evicted_traders"`
	FollowedAuto     int                   `json:"followed_auto"`
	FollowedManual   int                   `json:"followed_manual"`
	OpenPositions    int                   `json:"open_positions"`
	PendingOrders    int                   `json:"pending_orders"`
	PositionsOpened  int                   `json:"positions_opened"`
	PositionsClosed  int                   `json:"positions_closed"`
	TotalRealizedSol float64               `json:"total_realized_sol"`
	Ranking          []copier.RankingEntry `json:"ranking,omitempty"`
}

func startHTTPServer(port int, led *ledger.Ledger, track *tracker.Tracker, engine *copier.Engine, logger *log.Logger) *http.Server {
	started := time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		stats := engine.Stats()
		resp := StatusResponse{
			Status:           "running",
			Uptime:           time.Since(started).String(),
			TrackedTraders:   led.Count(),
			EvictedTraders:   led.DeletedCount(),
			FollowedAuto:     track.AutoCount(),
			FollowedManual:   track.ManualCount(),
			OpenPositions:    stats.OpenPositions,
			PendingOrders:    stats.PendingOrders,
			PositionsOpened:  stats.TotalOpened,
			PositionsClosed:  stats.TotalClosed,
			TotalRealizedSol: stats.TotalRealizedSol,
			Ranking:          engine.Ranking(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		logger.Printf("HTTP server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("HTTP server error: %v", err)
		}
	}()
	return srv
}
