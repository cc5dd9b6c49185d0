package harness

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/roach88/draftkeep/internal/broadcast"
	"github.com/roach88/draftkeep/internal/canonical"
	"github.com/roach88/draftkeep/internal/clock"
	"github.com/roach88/draftkeep/internal/integrity"
)

// recorder collects trace events once started.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type recorder struct {
	mu      sync.Mutex
	clock   clock.Clock
	start   time.Time
	seq     int64
	started bool
	events  []TraceEvent
}

func newRecorder(c clock.Clock) *recorder {
	return &recorder{clock: c}
}

// begin starts recording; times are reported relative to now.
func (r *recorder) begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
	r.start = r.clock.Now()
}

func (r *recorder) add(ev TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return
	}
	r.seq++
	ev.Seq = r.seq
	ev.AtMs = r.clock.Now().Sub(r.start).Milliseconds()
	r.events = append(r.events, ev)
}

func (r *recorder) trace() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TraceEvent{}, r.events...)
}

// tracingBackend records writes and deletes passing through to Backend.
type tracingBackend struct {
	integrity.Backend
	rec *recorder
}

func (b *tracingBackend) Set(ctx context.Context, key, value string) error {
	err := b.Backend.Set(ctx, key, value)
	if err != nil {
		b.rec.add(TraceEvent{Type: EventWriteRejected, Key: key, Error: err.Error()})
		return err
	}
	b.rec.add(TraceEvent{Type: EventWrite, Key: key, Doc: recordData(value)})
	return nil
}

func (b *tracingBackend) Delete(ctx context.Context, key string) error {
	if err := b.Backend.Delete(ctx, key); err != nil {
		return err
	}
	b.rec.add(TraceEvent{Type: EventDelete, Key: key})
	return nil
}

// recordData extracts the payload of a serialized record as generic JSON.
func recordData(value string) any {
	var rec struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return nil
	}
	v, err := canonical.Decode(rec.Data)
	if err != nil {
		return nil
	}
	return v
}

// tracingChannel records messages published by the session.
type tracingChannel struct {
	broadcast.Channel
	rec *recorder
}

func (c *tracingChannel) Publish(ctx context.Context, m broadcast.Message) error {
	c.rec.add(TraceEvent{Type: EventPublish, Message: string(m.Type), Origin: m.Origin})
	return c.Channel.Publish(ctx, m)
}
