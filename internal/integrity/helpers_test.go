package integrity

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/roach88/draftkeep/internal/store"
	"github.com/roach88/draftkeep/internal/testutil"
)

// newTestStore returns a Store over an in-memory backend and a manual clock.
func newTestStore(t *testing.T, opts ...store.Option) (*Store, *store.Memory, *testutil.ManualClock) {
	t.Helper()
	mem := store.NewMemory(opts...)
	clk := testutil.NewManualClock(testutil.Epoch)
	return New(mem, WithClock(clk)), mem, clk
}

// recordSize returns the backend size of data saved under key at the
// clock's current time.
func recordSize(t *testing.T, s *Store, key string, data any, isDraft bool) int64 {
	t.Helper()
	v, err := s.encode(data, isDraft)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return int64(len(key) + len(v))
}

// countingBackend counts Set calls on top of a Memory backend.
type countingBackend struct {
	*store.Memory
	mu   sync.Mutex
	sets int
}

func (b *countingBackend) Set(ctx context.Context, key, value string) error {
	b.mu.Lock()
	b.sets++
	b.mu.Unlock()
	return b.Memory.Set(ctx, key, value)
}

func (b *countingBackend) setCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sets
}

// failingBackend fails every Set with err.
type failingBackend struct {
	*store.Memory
	err error
}

func (b *failingBackend) Set(context.Context, string, string) error {
	return b.err
}

// captureLogs returns a logger writing text records into the buffer.
func captureLogs() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}
