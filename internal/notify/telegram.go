// Package notify delivers operator notifications. The engines treat
// delivery as fire-and-forget; failures are logged and dropped.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Notifier delivers fire-and-forget operator notifications.
type Notifier interface {
	Notify(text string)
}

// TelegramNotifier posts messages to a Telegram chat via the Bot API.
type TelegramNotifier struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
	logger  *log.Logger
}

// TelegramOption configures TelegramNotifier.
type TelegramOption func(*TelegramNotifier)

// WithAPIBase overrides the Telegram API base URL.
func WithAPIBase(base string) TelegramOption {
	return func(t *TelegramNotifier) {
		t.apiBase = base
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) TelegramOption {
	return func(t *TelegramNotifier) {
		t.client = client
	}
}

// NewTelegram creates a TelegramNotifier for the given bot token and
// chat ID.
func NewTelegram(token, chatID string, logger *log.Logger, opts ...TelegramOption) *TelegramNotifier {
	if logger == nil {
		logger = log.New(log.Writer(), "[notify] ", log.LstdFlags)
	}
	t := &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		apiBase: "https://api.telegram.org",
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ Notifier = (*TelegramNotifier)(nil)

// Notify sends the text to the configured chat. Delivery runs in the
// caller's goroutine with a bounded timeout; errors are logged, never
// returned.
func (t *TelegramNotifier) Notify(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.send(ctx, text); err != nil {
		t.logger.Printf("telegram: %v", err)
	}
}

func (t *TelegramNotifier) send(ctx context.Context, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)

	payload := map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Nop is a Notifier that discards everything.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(string) {}
