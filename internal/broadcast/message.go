// Package broadcast carries advisory notifications between editing
// sessions of the same document.
//
// Two transports are provided: Hub connects sessions inside one process,
// DirChannel connects processes through a shared directory. Delivery is
// best-effort on both; nothing that needs to be correct may depend on a
// message arriving.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MessageType names a notification.
type MessageType string

const (
	// TypeOpened announces that a session started editing a document.
	TypeOpened MessageType = "OPENED"
	// TypeSaved announces that a session persisted a draft.
	TypeSaved MessageType = "SAVED"
)

// ErrClosed is returned by Publish on a closed channel.
var ErrClosed = errors.New("broadcast: channel closed")

// Message is one notification.
//
// Origin identifies the sending session so receivers can drop their own
// messages. SentAt is in epoch milliseconds.
type Message struct {
	Type   MessageType `json:"type"`
	ID     string      `json:"id"`
	Origin string      `json:"origin"`
	SentAt int64       `json:"sent_at"`
}

// Validate reports whether m is well formed.
func (m Message) Validate() error {
	switch m.Type {
	case TypeOpened, TypeSaved:
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	if m.ID == "" {
		return errors.New("message id is required")
	}
	return nil
}

// Channel is a local publish/subscribe endpoint.
//
// Implementations never deliver a message back to the endpoint that
// published it. Handlers for one endpoint are called sequentially, in
// publish order per publisher.
type Channel interface {
	Publish(ctx context.Context, m Message) error
	// Subscribe registers f and returns a function that unregisters it.
	// The cancel function is idempotent.
	Subscribe(f func(Message)) (cancel func())
	Close() error
}

// NewOrigin returns a fresh time-sortable session identifier (UUIDv7).
func NewOrigin() string {
	return uuid.Must(uuid.NewV7()).String()
}

// OriginSource produces origin identifiers.
type OriginSource interface {
	Next() string
}

// OriginFunc adapts a function to OriginSource.
type OriginFunc func() string

// Next calls f.
func (f OriginFunc) Next() string { return f() }

// UUIDv7Origins is the production OriginSource.
var UUIDv7Origins OriginSource = OriginFunc(NewOrigin)

// FixedOrigins returns predetermined origins for deterministic tests and
// golden traces.
//
// Thread-safety: FixedOrigins is safe for concurrent use via internal mutex.
type FixedOrigins struct {
	mu     sync.Mutex
	values []string
	idx    int
}

// NewFixedOrigins creates a source that returns values in order.
func NewFixedOrigins(values ...string) *FixedOrigins {
	return &FixedOrigins{values: values}
}

// Next returns the next predetermined origin.
//
// Panics once all values are consumed; a test that opens more sessions than
// it planned for is misconfigured.
func (f *FixedOrigins) Next() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.idx >= len(f.values) {
		panic("FixedOrigins: all values exhausted")
	}
	v := f.values[f.idx]
	f.idx++
	return v
}

// handlerSet is the subscriber list shared by the transports.
type handlerSet struct {
	mu       sync.Mutex
	next     int
	handlers map[int]func(Message)
}

func (s *handlerSet) add(f func(Message)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handlers == nil {
		s.handlers = make(map[int]func(Message))
	}
	id := s.next
	s.next++
	s.handlers[id] = f

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handlers, id)
			s.mu.Unlock()
		})
	}
}

// snapshot returns the current handlers in subscription order.
func (s *handlerSet) snapshot() []func(Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]func(Message), 0, len(s.handlers))
	for id := 0; id < s.next; id++ {
		if f, ok := s.handlers[id]; ok {
			out = append(out, f)
		}
	}
	return out
}

func (s *handlerSet) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = nil
}

// deliver calls every current handler with m.
func (s *handlerSet) deliver(m Message) {
	for _, f := range s.snapshot() {
		f(m)
	}
}
