// Package feed streams live trade and migration events from the
// pumpportal data WebSocket and fans them out to a sink as normalized
// domain events. The client reconnects with exponential backoff and
// replays its subscriptions on every new connection.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/newben420/kolt/internal/domain"
)

// Sink receives normalized events from the feed.
type Sink interface {
	OnTrade(ev *domain.TradeEvent)
	OnMigration(ev *domain.MigrationEvent)
}

// Config configures feed client behavior.
type Config struct {
	// URL is the WebSocket endpoint.
	URL string
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// OnReconnect is invoked after every successful reconnect, before
	// subscriptions are replayed. May be nil.
	OnReconnect func()
}

// DefaultConfig returns default feed configuration for the given URL.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Client is a reconnecting pumpportal feed client.
type Client struct {
	config Config
	sink   Sink
	logger *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	// desired subscription state, replayed after reconnect
	subsMu      sync.Mutex
	accountKeys map[string]struct{}
	tokenKeys   map[string]struct{}
	migrations  bool

	done         chan struct{}
	wg           sync.WaitGroup
	reconnecting atomic.Bool
}

// New creates a feed client and connects to the endpoint.
func New(ctx context.Context, config Config, sink Sink, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[feed] ", log.LstdFlags)
	}
	c := &Client{
		config:      config,
		sink:        sink,
		logger:      logger,
		accountKeys: make(map[string]struct{}),
		tokenKeys:   make(map[string]struct{}),
		done:        make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// SubscribeAccountTrades starts streaming trades made by the given
// wallet addresses.
func (c *Client) SubscribeAccountTrades(keys ...string) error {
	c.subsMu.Lock()
	for _, k := range keys {
		c.accountKeys[k] = struct{}{}
	}
	c.subsMu.Unlock()
	return c.writeRequest("subscribeAccountTrade", keys)
}

// UnsubscribeAccountTrades stops streaming trades for the addresses.
func (c *Client) UnsubscribeAccountTrades(keys ...string) error {
	c.subsMu.Lock()
	for _, k := range keys {
		delete(c.accountKeys, k)
	}
	c.subsMu.Unlock()
	return c.writeRequest("unsubscribeAccountTrade", keys)
}

// SubscribeTokenTrades starts streaming every trade on the given mints.
func (c *Client) SubscribeTokenTrades(mints ...string) error {
	c.subsMu.Lock()
	for _, m := range mints {
		c.tokenKeys[m] = struct{}{}
	}
	c.subsMu.Unlock()
	return c.writeRequest("subscribeTokenTrade", mints)
}

// UnsubscribeTokenTrades stops streaming trades on the mints.
func (c *Client) UnsubscribeTokenTrades(mints ...string) error {
	c.subsMu.Lock()
	for _, m := range mints {
		delete(c.tokenKeys, m)
	}
	c.subsMu.Unlock()
	return c.writeRequest("unsubscribeTokenTrade", mints)
}

// SubscribeMigrations starts streaming bonding-curve graduation events.
func (c *Client) SubscribeMigrations() error {
	c.subsMu.Lock()
	c.migrations = true
	c.subsMu.Unlock()
	return c.writeRequest("subscribeMigration", nil)
}

func (c *Client) writeRequest(method string, keys []string) error {
	if c.closed.Load() {
		return fmt.Errorf("client closed")
	}

	req := wireRequest{Method: method}
	if keys != nil {
		req.Keys = keys
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write %s: %w", method, err)
	}
	return nil
}

// Close closes the connection and stops the client.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

func (c *Client) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.Printf("reconnect failed: %v", err)
		return
	}

	if c.config.OnReconnect != nil {
		c.config.OnReconnect()
	}
	c.resubscribeAll()
}

// resubscribeAll replays the desired subscription state on a fresh
// connection.
func (c *Client) resubscribeAll() {
	c.subsMu.Lock()
	accounts := make([]string, 0, len(c.accountKeys))
	for k := range c.accountKeys {
		accounts = append(accounts, k)
	}
	tokens := make([]string, 0, len(c.tokenKeys))
	for m := range c.tokenKeys {
		tokens = append(tokens, m)
	}
	migrations := c.migrations
	c.subsMu.Unlock()

	if len(accounts) > 0 {
		if err := c.writeRequest("subscribeAccountTrade", accounts); err != nil {
			c.logger.Printf("resubscribe accounts: %v", err)
		}
	}
	if len(tokens) > 0 {
		if err := c.writeRequest("subscribeTokenTrade", tokens); err != nil {
			c.logger.Printf("resubscribe tokens: %v", err)
		}
	}
	if migrations {
		if err := c.writeRequest("subscribeMigration", nil); err != nil {
			c.logger.Printf("resubscribe migrations: %v", err)
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var msg wireMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	switch msg.TxType {
	case "buy", "sell":
		side := domain.SideBuy
		if msg.TxType == "sell" {
			side = domain.SideSell
		}
		price := msg.PriceSol
		if price == 0 && msg.TokenAmount > 0 {
			price = msg.SolAmount / msg.TokenAmount
		}
		c.sink.OnTrade(&domain.TradeEvent{
			Trader:       msg.TraderPublicKey,
			Mint:         msg.Mint,
			Side:         side,
			SolAmount:    msg.SolAmount,
			TokenAmount:  msg.TokenAmount,
			PriceSol:     price,
			MarketCapSol: msg.MarketCapSol,
			Venue:        msg.Pool,
			PoolAddress:  msg.PoolAddress,
			Signature:    msg.Signature,
			LatencyMs:    msg.LatencyMs,
		})
	case "migrate":
		c.sink.OnMigration(&domain.MigrationEvent{
			Mint:      msg.Mint,
			Venue:     msg.Pool,
			Signature: msg.Signature,
		})
	}
}

func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// wire types

type wireRequest struct {
	Method string   `json:"method"`
	Keys   []string `json:"keys,omitempty"`
}

type wireMessage struct {
	Signature       string  `json:"signature"`
	Mint            string  `json:"mint"`
	TraderPublicKey string  `json:"traderPublicKey"`
	TxType          string  `json:"txType"`
	SolAmount       float64 `json:"solAmount"`
	TokenAmount     float64 `json:"tokenAmount"`
	PriceSol        float64 `json:"priceSol"`
	MarketCapSol    float64 `json:"marketCapSol"`
	Pool            string  `json:"pool"`
	PoolAddress     string  `json:"poolAddress"`
	LatencyMs       int64   `json:"latencyMS"`
}
