// Package notify delivers human-readable trade, risk and error messages.
package notify

import (
	"context"
	"sync"
)

// Notifier sends a text message. Callers log failures and carry on; a failed
// notification never aborts a decision cycle.
type Notifier interface {
	SendText(ctx context.Context, text string) error
}

// Nop discards every message. Used when no Telegram credentials are configured.
type Nop struct{}

func (Nop) SendText(context.Context, string) error { return nil }

// Recorder keeps every message in memory, used by tests and backtests.
type Recorder struct {
	mu       sync.Mutex
	messages []string
	// Err, when set, is returned by every SendText after recording.
	Err error
}

func (r *Recorder) SendText(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
	return r.Err
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}
