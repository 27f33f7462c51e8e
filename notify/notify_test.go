package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"auto_paper_bot/state"

	"github.com/jpillora/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTelegram(url string) *Telegram {
	tg := NewTelegram("TOKEN", "42", time.Second)
	tg.BaseURL = url
	tg.Backoff = backoff.Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond}
	return tg
}

func TestTelegramSendsMessage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, newTestTelegram(srv.URL).SendText(context.Background(), "hello"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "hello", got["text"])
}

func TestTelegramRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, newTestTelegram(srv.URL).SendText(context.Background(), "x"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestTelegramDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := newTestTelegram(srv.URL).SendText(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=400")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNewWithoutCredentialsIsNop(t *testing.T) {
	assert.IsType(t, Nop{}, New("", "1", time.Second))
	assert.IsType(t, Nop{}, New("t", " ", time.Second))
	assert.IsType(t, &Telegram{}, New("t", "1", time.Second))
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "0.00", Money(0))
	assert.Equal(t, "1,234.50", Money(1234.5))
	assert.Equal(t, "-1,000,000.01", Money(-1000000.006))
	assert.Equal(t, "999.99", Money(999.99))
	assert.Equal(t, "0.00", Money(-0.001))
	assert.Equal(t, "+3.50%", SignedPct(3.5))
	assert.Equal(t, "-0.25%", SignedPct(-0.25))
	assert.Equal(t, "0.10000000", Qty(0.1))
}

func TestTradeSummary(t *testing.T) {
	st := state.New(state.Defaults{PaperEnabled: true, StartCash: 1000})
	st.Position = state.Long
	st.Account.Cash = 0
	st.Account.QtyLong = 10
	st.Account.AvgLong = 100
	st.Account.TrailActive = true
	st.Account.TrailStop = 105
	st.Account.Trades = 1

	msg := TradeSummary("After OPEN LONG", st, 110)
	lines := strings.Split(msg, "\n")
	assert.Equal(t, "After OPEN LONG", lines[0])
	assert.Contains(t, msg, "Pos: long")
	assert.Contains(t, msg, "Port: 1,100.00")
	assert.Contains(t, msg, "PnL: 100.00 (+10.00%)")
	assert.Contains(t, msg, "Trail stop: 105.00")
	assert.Contains(t, msg, "Trades: 1")
}

func TestRenderTrimsLongMessages(t *testing.T) {
	m := Message{Title: "t", Lines: []string{strings.Repeat("a", 5000)}}
	assert.Len(t, m.Render(), maxMessageLen+3)
}

func TestRenderTrimsOnRuneBoundary(t *testing.T) {
	// After the "tt\n" prefix a three-byte rune straddles the cut.
	m := Message{Title: "tt", Lines: []string{strings.Repeat("€", 2000)}}
	out := m.Render()
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasSuffix(out, "€..."))
	assert.LessOrEqual(t, len(out), maxMessageLen+3)
	assert.Greater(t, len(out), maxMessageLen-3)
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.SendText(context.Background(), "a"))
	assert.Equal(t, []string{"a"}, r.Messages())
}
