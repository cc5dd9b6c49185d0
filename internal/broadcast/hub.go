package broadcast

import (
	"context"
	"sync"
)

// Hub connects endpoints inside one process.
//
// Each endpoint owns a FIFO queue drained by one goroutine, so a slow
// handler on one endpoint never blocks a publisher or another endpoint.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Hub struct {
	mu        sync.Mutex
	endpoints map[*Endpoint]struct{}

	// pending counts enqueued messages not yet delivered, for Wait.
	pending int
	idle    *sync.Cond
}

// NewHub creates a hub with no endpoints.
func NewHub() *Hub {
	h := &Hub{endpoints: make(map[*Endpoint]struct{})}
	h.idle = sync.NewCond(&h.mu)
	return h
}

// Join returns a new endpoint connected to the hub. The caller must Close
// it to release its delivery goroutine.
func (h *Hub) Join() *Endpoint {
	e := &Endpoint{
		hub:   h,
		queue: newMessageQueue(),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	h.endpoints[e] = struct{}{}
	h.mu.Unlock()

	go e.run()
	return e
}

// Wait blocks until every message published so far has been delivered or
// dropped.
func (h *Hub) Wait() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for h.pending > 0 {
		h.idle.Wait()
	}
}

// Len returns the number of open endpoints.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.endpoints)
}

func (h *Hub) publish(from *Endpoint, m Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.endpoints[from]; !ok {
		return ErrClosed
	}
	for e := range h.endpoints {
		if e == from {
			continue
		}
		if e.queue.Enqueue(m) {
			h.pending++
		}
	}
	return nil
}

func (h *Hub) leave(e *Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.endpoints, e)
}

func (h *Hub) settled(n int) {
	if n == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pending -= n
	if h.pending <= 0 {
		h.pending = 0
		h.idle.Broadcast()
	}
}

// Endpoint is one participant of a Hub. It implements Channel.
type Endpoint struct {
	hub       *Hub
	queue     *messageQueue
	handlers  handlerSet
	done      chan struct{}
	closeOnce sync.Once
}

var _ Channel = (*Endpoint)(nil)

// Publish enqueues m for every other endpoint of the hub.
func (e *Endpoint) Publish(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}
	return e.hub.publish(e, m)
}

// Subscribe registers f for messages delivered to this endpoint.
func (e *Endpoint) Subscribe(f func(Message)) (cancel func()) {
	return e.handlers.add(f)
}

// Close detaches the endpoint from the hub, drops undelivered messages and
// waits for its delivery goroutine to exit. Safe to call more than once,
// but not from inside one of the endpoint's own handlers.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.hub.leave(e)
		e.handlers.reset()
		e.queue.Close()
		<-e.done
	})
	return nil
}

// run delivers queued messages until the queue is closed and drained.
func (e *Endpoint) run() {
	defer close(e.done)

	for {
		for {
			m, ok := e.queue.TryDequeue()
			if !ok {
				break
			}
			e.handlers.deliver(m)
			e.hub.settled(1)
		}
		if e.queue.Drained() {
			return
		}
		<-e.queue.Wait()
	}
}
