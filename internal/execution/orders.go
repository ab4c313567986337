package execution

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/newben420/kolt/internal/domain"
	"github.com/newben420/kolt/internal/solana"
)

// OrderConfig configures the order submitter.
type OrderConfig struct {
	// TradeURL is the venue's local trade-construction endpoint.
	TradeURL string
	// BuySlippagePerc and SellSlippagePerc are passed to the venue.
	BuySlippagePerc  float64
	SellSlippagePerc float64
	// PriorityFeeSol is the priority fee attached to each order.
	PriorityFeeSol float64
	// SkipPreflight skips RPC preflight simulation on submit.
	SkipPreflight bool
	// HTTPTimeout bounds the trade-construction request. Defaults to
	// 15 seconds.
	HTTPTimeout time.Duration
}

// Submitter builds, signs and submits live orders. Buy amounts are
// denominated in SOL; sell amounts are percentage strings resolved by
// the venue.
type Submitter struct {
	cfg    OrderConfig
	wallet *Wallet
	rpc    solana.RPCClient
	client *http.Client
	logger *log.Logger
}

// NewSubmitter creates a Submitter.
func NewSubmitter(cfg OrderConfig, wallet *Wallet, rpc solana.RPCClient, logger *log.Logger) *Submitter {
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[orders] ", log.LstdFlags)
	}
	return &Submitter{
		cfg:    cfg,
		wallet: wallet,
		rpc:    rpc,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger,
	}
}

// tradeRequest is the venue's order-construction payload.
type tradeRequest struct {
	Action           string  `json:"action"`
	PublicKey        string  `json:"publicKey"`
	Mint             string  `json:"mint"`
	Amount           string  `json:"amount"`
	DenominatedInSol string  `json:"denominatedInSol"`
	Slippage         float64 `json:"slippage"`
	Pool             string  `json:"pool"`
	PriorityFee      float64 `json:"priorityFee"`
}

// Submit requests an unsigned transaction from the venue, signs it and
// submits it over RPC, returning the transaction signature.
func (s *Submitter) Submit(ctx context.Context, action, mint, amount string) (string, error) {
	unsigned, err := s.buildTransaction(ctx, action, mint, amount)
	if err != nil {
		return "", err
	}

	signed, err := s.wallet.SignTransaction(unsigned)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := s.rpc.SendTransaction(ctx, base64.StdEncoding.EncodeToString(signed), s.cfg.SkipPreflight)
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}

	s.logger.Printf("%s %s %s submitted: %s", action, amount, mint, sig)
	return sig, nil
}

func (s *Submitter) buildTransaction(ctx context.Context, action, mint, amount string) ([]byte, error) {
	slippage := s.cfg.SellSlippagePerc
	denominated := "false"
	if action == domain.SideBuy {
		slippage = s.cfg.BuySlippagePerc
		denominated = "true"
	}

	payload, err := json.Marshal(tradeRequest{
		Action:           action,
		PublicKey:        s.wallet.PublicKey(),
		Mint:             mint,
		Amount:           amount,
		DenominatedInSol: denominated,
		Slippage:         slippage,
		Pool:             "auto",
		PriorityFee:      s.cfg.PriorityFeeSol,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal trade request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TradeURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create trade request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trade request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("trade endpoint status %d: %s", resp.StatusCode, string(body))
	}

	unsigned, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read transaction: %w", err)
	}
	if len(unsigned) == 0 {
		return nil, fmt.Errorf("trade endpoint returned empty transaction")
	}
	return unsigned, nil
}
