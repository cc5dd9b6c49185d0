package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process backend with the same semantics as SQLite.
// Used by tests and the scenario harness.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Memory struct {
	mu     sync.Mutex
	data   map[string]string
	used   int64
	quota  int64
	closed bool
}

// NewMemory creates an empty in-memory backend.
func NewMemory(opts ...Option) *Memory {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Memory{data: make(map[string]string), quota: o.quota}
}

// Get returns the value stored under key.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.data[key]
	return v, ok, nil
}

// Set stores value under key, replacing any previous value.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	size := entrySize(key, value)
	used := m.used
	if old, ok := m.data[key]; ok {
		used -= entrySize(key, old)
	}
	if m.quota > 0 && used+size > m.quota {
		return fmt.Errorf("set %q: %w (need %d bytes, %d of %d in use)",
			key, ErrQuotaExceeded, size, used, m.quota)
	}

	m.data[key] = value
	m.used = used + size
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if old, ok := m.data[key]; ok {
		m.used -= entrySize(key, old)
		delete(m.data, key)
	}
	return nil
}

// Keys returns every key starting with prefix in byte order.
func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	keys := []string{}
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Usage reports entry count and bytes in use.
func (m *Memory) Usage(_ context.Context) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Usage{}, ErrClosed
	}
	return Usage{Keys: len(m.data), Bytes: m.used, Quota: m.quota}, nil
}

// Close releases the backend. Later calls fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
