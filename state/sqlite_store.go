package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sessionRecord is one session document per symbol.
type sessionRecord struct {
	Symbol    string `gorm:"primaryKey;size:32"`
	Document  string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (sessionRecord) TableName() string { return "session_state" }

// SQLiteBackend stores the session document as a row keyed by symbol.
type SQLiteBackend struct {
	db     *gorm.DB
	symbol string
}

// OpenSQLite opens (or creates) the database at path with WAL enabled.
func OpenSQLite(path string) (*gorm.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	return db, nil
}

// NewSQLiteBackend opens the database at path and migrates the session table.
func NewSQLiteBackend(path, symbol string) (*SQLiteBackend, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteBackendFromDB(db, symbol)
}

func NewSQLiteBackendFromDB(db *gorm.DB, symbol string) (*SQLiteBackend, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	if err := db.AutoMigrate(&sessionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate session table: %w", err)
	}
	return &SQLiteBackend{db: db, symbol: symbol}, nil
}

func (s *SQLiteBackend) Read(ctx context.Context) ([]byte, error) {
	var rec sessionRecord
	err := s.db.WithContext(ctx).Where("symbol = ?", s.symbol).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(rec.Document), nil
}

// Write upserts the row in a single statement, so a failure leaves the old document.
func (s *SQLiteBackend) Write(ctx context.Context, data []byte) error {
	rec := sessionRecord{Symbol: s.symbol, Document: string(data), UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Save(&rec).Error
}

func (s *SQLiteBackend) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
