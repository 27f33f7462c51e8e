package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jpillora/backoff"
)

const defaultTelegramAPI = "https://api.telegram.org"

// Telegram posts plain-text messages through the Bot API sendMessage method,
// retrying network errors, 429 and 5xx responses.
type Telegram struct {
	BotToken string
	ChatID   string
	Client   *http.Client
	// BaseURL overrides the Bot API endpoint, used by tests.
	BaseURL  string
	Attempts int
	Backoff  backoff.Backoff
}

func NewTelegram(botToken, chatID string, timeout time.Duration) *Telegram {
	return &Telegram{
		BotToken: botToken,
		ChatID:   chatID,
		Client:   &http.Client{Timeout: timeout},
		BaseURL:  defaultTelegramAPI,
		Attempts: 3,
		Backoff:  backoff.Backoff{Min: 500 * time.Millisecond, Max: 4 * time.Second, Factor: 2, Jitter: true},
	}
}

// New returns a Telegram notifier when both credentials are set, Nop otherwise.
func New(botToken, chatID string, timeout time.Duration) Notifier {
	if strings.TrimSpace(botToken) == "" || strings.TrimSpace(chatID) == "" {
		return Nop{}
	}
	return NewTelegram(botToken, chatID, timeout)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func (t *Telegram) SendText(ctx context.Context, text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("telegram is not configured")
	}
	body, err := json.Marshal(map[string]any{"chat_id": t.ChatID, "text": text})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.BaseURL, "/"), t.BotToken)

	b := t.Backoff
	attempts := t.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = t.post(ctx, url, body)
		if lastErr == nil {
			return nil
		}
		if _, ok := lastErr.(permanentError); ok || attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return fmt.Errorf("telegram send failed: %w", lastErr)
}

func (t *Telegram) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return permanentError{err}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return permanentError{ctx.Err()}
		}
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode/100 == 2:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("telegram status=%d", resp.StatusCode)
	default:
		return permanentError{fmt.Errorf("telegram status=%d", resp.StatusCode)}
	}
}
