package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-tilroy/pkg/config"
)

// Backend stores the encoded state document.
type Backend interface {
	// Load returns the stored document, or nil when none exists.
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the stored document atomically.
	Save(ctx context.Context, data []byte) error
	Close() error
	Name() string
}

// NewBackend creates the backend selected by cfg.
func NewBackend(ctx context.Context, cfg config.StateConfig, logger *zap.Logger) (Backend, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileBackend(cfg.Path), nil
	case "memory":
		return NewMemoryBackend(nil), nil
	case "sqlite":
		return NewSQLiteBackend(ctx, cfg.DSN, cfg.Key)
	case "s3":
		return NewS3Backend(ctx, cfg.Bucket, cfg.Key, cfg.Region)
	case "gcs":
		return NewGCSBackend(ctx, cfg.Bucket, cfg.Key)
	case "mongodb":
		return NewMongoBackend(ctx, cfg.DSN, cfg.Database, cfg.Collection, cfg.Key, logger)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

// MemoryBackend keeps the document in memory.
type MemoryBackend struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

// NewMemoryBackend creates a memory backend holding initial.
func NewMemoryBackend(initial []byte) *MemoryBackend {
	return &MemoryBackend{data: append([]byte(nil), initial...)}
}

func (m *MemoryBackend) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.data) == 0 {
		return nil, nil
	}
	return append([]byte(nil), m.data...), nil
}

func (m *MemoryBackend) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	m.saves++
	return nil
}

// Saves returns how many times Save was called.
func (m *MemoryBackend) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemoryBackend) Close() error { return nil }
func (m *MemoryBackend) Name() string { return "memory" }

// FileBackend writes the document to a local file. Saves go to a temporary
// file in the same directory which is synced and renamed over the target.
type FileBackend struct {
	path string
}

// NewFileBackend creates a file backend at path.
func NewFileBackend(path string) *FileBackend {
	if path == "" {
		path = "state.json"
	}
	return &FileBackend{path: path}
}

// Path returns the state file location.
func (f *FileBackend) Path() string {
	return f.path
}

func (f *FileBackend) Load(context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	return data, nil
}

func (f *FileBackend) Save(_ context.Context, data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		cleanup()
		return fmt.Errorf("replace state file: %w", err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

func (f *FileBackend) Close() error { return nil }
func (f *FileBackend) Name() string { return "file" }
