// Package journal appends every simulated fill to a sqlite table.
package journal

import (
	"context"
	"fmt"
	"time"

	"auto_paper_bot/state"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TradeRecord is one fill.
type TradeRecord struct {
	ID             string `gorm:"primaryKey;size:36"`
	RunID          string `gorm:"index;size:36"`
	Symbol         string `gorm:"index;size:32"`
	Strategy       string `gorm:"size:16"`
	Kind           string `gorm:"size:16"` // open_long, close_short, ...
	Side           string `gorm:"size:8"`
	Reason         string `gorm:"size:32"` // signal, stop_loss, take_profit, trailing_stop
	Price          float64
	Quantity       float64
	Fee            float64
	Realized       float64
	CashAfter      float64
	PortfolioAfter float64
	BarCloseMs     int64
	CreatedAt      time.Time `gorm:"index"`
}

func (TradeRecord) TableName() string { return "trade_journal" }

// Entry is what the session hands over for each fill.
type Entry struct {
	Kind           string
	Side           string
	Reason         string
	Price          float64
	Quantity       float64
	Fee            float64
	Realized       float64
	CashAfter      float64
	PortfolioAfter float64
	BarCloseMs     int64
}

// Journal writes TradeRecords tagged with the process run id.
type Journal struct {
	db       *gorm.DB
	runID    string
	symbol   string
	strategy string
	now      func() time.Time
}

// Open opens the journal database at path and migrates the table.
func Open(path, runID, symbol, strategy string) (*Journal, error) {
	db, err := state.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return NewFromDB(db, runID, symbol, strategy)
}

func NewFromDB(db *gorm.DB, runID, symbol, strategy string) (*Journal, error) {
	if err := db.AutoMigrate(&TradeRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate trade journal: %w", err)
	}
	return &Journal{db: db, runID: runID, symbol: symbol, strategy: strategy, now: time.Now}, nil
}

// Record appends one fill.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	rec := TradeRecord{
		ID:             uuid.NewString(),
		RunID:          j.runID,
		Symbol:         j.symbol,
		Strategy:       j.strategy,
		Kind:           e.Kind,
		Side:           e.Side,
		Reason:         e.Reason,
		Price:          e.Price,
		Quantity:       e.Quantity,
		Fee:            e.Fee,
		Realized:       e.Realized,
		CashAfter:      e.CashAfter,
		PortfolioAfter: e.PortfolioAfter,
		BarCloseMs:     e.BarCloseMs,
		CreatedAt:      j.now(),
	}
	if err := j.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to record %s fill: %w", e.Kind, err)
	}
	return nil
}

// Recent returns up to limit records of this symbol, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]TradeRecord, error) {
	var recs []TradeRecord
	err := j.db.WithContext(ctx).
		Where("symbol = ?", j.symbol).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
