// Package main replays a recorded trade-event file through the ledger
// and the copy engine in simulation mode, to evaluate rule
// configurations against past market activity.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/newben420/kolt/internal/config"
	"github.com/newben420/kolt/internal/copier"
	"github.com/newben420/kolt/internal/ledger"
	"github.com/newben420/kolt/internal/replay"
)

func main() {
	input := flag.String("input", "", "Path to JSONL event file, '-' for stdin (required)")
	envPath := flag.String("env", "", "Path to .env file (optional)")
	autoRegister := flag.Bool("auto-register", true, "Register every trader on first sight")
	outputJSON := flag.Bool("json", false, "Output summary as JSON")

	flag.Parse()

	logger := log.New(os.Stderr, "[replay] ", log.LstdFlags)

	if *input == "" {
		logger.Fatal("--input is required")
	}

	cfg, err := config.Load(*envPath)
	if err != nil {
		logger.Fatalf("load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	var reader io.Reader = os.Stdin
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			logger.Fatalf("open input: %v", err)
		}
		defer f.Close()
		reader = f
	}

	led := ledger.New(ledger.Config{
		BadPnLThreshold:   cfg.BadPnLThreshold,
		MaxBadScore:       cfg.MaxBadScore,
		MemoryCap:         cfg.MemoryCap,
		InactivityTimeout: cfg.InactivityTimeout,
		GCInterval:        cfg.GCInterval,
	}, nil, logger)

	// Replay always runs the engine in simulation mode regardless of the
	// configured mode; no orders leave the process.
	engine := copier.New(copier.Config{
		Simulation:             true,
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
	}, led, nil, nil, nil, nil, logger)

	runner := replay.NewRunner(replay.Config{AutoRegister: *autoRegister}, led, engine, logger)

	sum, err := runner.Run(ctx, reader)
	if err != nil {
		logger.Fatalf("replay failed: %v", err)
	}

	if *outputJSON {
		out := struct {
			replay.Summary
			Ranking []copier.RankingEntry `json:"ranking"`
		}{sum, engine.Ranking()}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Printf("\n=== Replay Summary ===\n")
	fmt.Printf("Events Replayed:   %d\n", sum.EventsReplayed)
	fmt.Printf("Lines Skipped:     %d\n", sum.LinesSkipped)
	fmt.Printf("Positions Opened:  %d\n", sum.PositionsOpened)
	fmt.Printf("Positions Closed:  %d\n", sum.PositionsClosed)
	fmt.Printf("Realized PnL:      %.6f SOL\n", sum.RealizedPnLSol)

	if ranking := engine.Ranking(); len(ranking) > 0 {
		fmt.Printf("\n=== Trader Ranking ===\n")
		for i, entry := range ranking {
			fmt.Printf("%2d. %s  pnl=%.6f wins=%d losses=%d\n",
				i+1, entry.Address, entry.PnL, entry.Wins, entry.Losses)
		}
	}
}
