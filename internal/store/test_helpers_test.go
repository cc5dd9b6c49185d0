package store

import (
	"context"
	"path/filepath"
	"testing"
)

// backend is the method set shared by SQLite and Memory.
type backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Usage(ctx context.Context) (Usage, error)
	Close() error
}

// createTestStore creates a new SQLite store in a temp dir.
func createTestStore(t *testing.T, opts ...Option) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// eachBackend runs fn against both backends.
func eachBackend(t *testing.T, opts []Option, fn func(t *testing.T, b backend)) {
	t.Helper()
	t.Run("sqlite", func(t *testing.T) {
		fn(t, createTestStore(t, opts...))
	})
	t.Run("memory", func(t *testing.T) {
		m := NewMemory(opts...)
		t.Cleanup(func() { m.Close() })
		fn(t, m)
	})
}
