package monitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"auto_paper_bot/logs"
	"auto_paper_bot/profit"

	"github.com/gin-gonic/gin"
)

// Snapshot is the JSON view of the session served on /status.
type Snapshot struct {
	Symbol             string       `json:"symbol"`
	Strategy           string       `json:"strategy"`
	Position           string       `json:"position"`
	Price              float64      `json:"price"`
	PortfolioValue     float64      `json:"portfolio_value"`
	UnrealizedPnL      float64      `json:"unrealized_pnl"`
	Cash               float64      `json:"cash"`
	QtyLong            float64      `json:"qty_long"`
	QtyShort           float64      `json:"qty_short"`
	RealizedPnL        float64      `json:"realized_pnl"`
	Trades             int          `json:"trades"`
	TrailActive        bool         `json:"trail_active"`
	TrailStop          float64      `json:"trail_stop"`
	DayKey             string       `json:"day_key"`
	DayStartValue      float64      `json:"day_start_value"`
	HaltedToday        bool         `json:"halted_today"`
	CooldownUntilBarMs int64        `json:"cooldown_until_bar_ms"`
	LastProcessedBarMs int64        `json:"last_processed_bar_ms"`
	LastBarCloseMs     int64        `json:"last_bar_close_ms"`
	LastSignal         string       `json:"last_signal,omitempty"`
	LastError          string       `json:"last_error,omitempty"`
	Session            profit.Stats `json:"session"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// SnapshotSource is implemented by Runner.
type SnapshotSource interface {
	Snapshot() Snapshot
}

// StatusServer exposes /healthz and /status over HTTP.
type StatusServer struct {
	srv *http.Server
}

func NewStatusServer(addr string, src SnapshotSource) *StatusServer {
	return &StatusServer{srv: &http.Server{
		Addr:              addr,
		Handler:           newRouter(src),
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

func newRouter(src SnapshotSource) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Snapshot())
	})
	return r
}

// Handler is the routed handler, used by tests.
func (s *StatusServer) Handler() http.Handler { return s.srv.Handler }

// Start serves in the background until Shutdown.
func (s *StatusServer) Start() {
	go func() {
		logs.Infof("[Status] Listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Errorf("[Status] Server stopped: %v", err)
		}
	}()
}

func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
