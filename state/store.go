package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"auto_paper_bot/logs"
)

// ErrNotFound is returned by a Backend that holds no document yet.
var ErrNotFound = errors.New("session state not found")

// Backend reads and writes the encoded session document. Write must be atomic:
// a failed write leaves the previous document intact.
type Backend interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Store loads and saves SessionState through a Backend.
type Store struct {
	backend  Backend
	defaults Defaults
}

func NewStore(backend Backend, defaults Defaults) *Store {
	return &Store{backend: backend, defaults: defaults}
}

// Load restores the saved session, or a fresh one when nothing has been saved.
func (s *Store) Load(ctx context.Context) (*SessionState, error) {
	data, err := s.backend.Read(ctx)
	if errors.Is(err, ErrNotFound) {
		logs.Infof("[State] No saved session found, starting fresh with %.2f cash", s.defaults.StartCash)
		return New(s.defaults), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}
	st, err := Decode(data, s.defaults)
	if err != nil {
		return nil, err
	}
	logs.Infof("[State] Restored session: position=%s cash=%.2f trades=%d last_bar=%d",
		st.Position, st.Account.Cash, st.Account.Trades, st.LastProcessedBarMs)
	return st, nil
}

// Save persists st atomically.
func (s *Store) Save(ctx context.Context, st *SessionState) error {
	data, err := Encode(st)
	if err != nil {
		return err
	}
	if err := s.backend.Write(ctx, data); err != nil {
		return fmt.Errorf("failed to write session state: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}

// FileBackend stores the document as a JSON file.
type FileBackend struct {
	mu       sync.Mutex
	filePath string
}

// NewFileBackend creates the parent directory of filePath if needed.
func NewFileBackend(filePath string) (*FileBackend, error) {
	if filePath == "" {
		return nil, fmt.Errorf("state file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileBackend{filePath: filePath}, nil
}

func (f *FileBackend) Read(_ context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.filePath)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return data, nil
}

// Write writes to a temporary sibling file, syncs it and renames it over the target.
func (f *FileBackend) Write(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmpFilePath := f.filePath + ".tmp"
	tmp, err := os.OpenFile(tmpFilePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open temporary state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpFilePath)
		return fmt.Errorf("failed to write to temporary state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpFilePath)
		return fmt.Errorf("failed to sync temporary state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpFilePath)
		return err
	}
	return os.Rename(tmpFilePath, f.filePath)
}

func (f *FileBackend) Close() error { return nil }

// MemoryBackend keeps the document in memory, used for backtests and tests.
type MemoryBackend struct {
	mu     sync.Mutex
	data   []byte
	writes int
	// FailWrites makes every Write fail, for exercising persistence failures.
	FailWrites bool
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Read(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), m.data...), nil
}

func (m *MemoryBackend) Write(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return errors.New("memory backend: write refused")
	}
	m.data = append([]byte(nil), data...)
	m.writes++
	return nil
}

// Writes returns the number of successful writes.
func (m *MemoryBackend) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MemoryBackend) Close() error { return nil }
