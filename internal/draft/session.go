package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/draftkeep/internal/broadcast"
	"github.com/roach88/draftkeep/internal/canonical"
	"github.com/roach88/draftkeep/internal/clock"
	"github.com/roach88/draftkeep/internal/integrity"
)

// Session is one editing session of one document.
//
// Thread-safety: All methods are safe for concurrent use. Methods, timer
// callbacks and channel deliveries serialize on the session mutex; at most
// one draft write is in flight per session.
type Session struct {
	mu sync.Mutex

	id     string
	key    string
	origin string

	store    *integrity.Store
	channel  broadcast.Channel
	clock    clock.Clock
	logger   *slog.Logger
	debounce time.Duration
	volatile []string
	hooks    Hooks

	state      State
	decision   Decision
	warnings   Warnings
	lastErr    *SaveError
	baselineFP string
	settledFP  string

	// pending is the latest unsaved document; pendingFP its fingerprint.
	pending   any
	pendingFP string
	timer     clock.Timer
	// gen is bumped whenever the pending save is superseded or cancelled.
	// A timer only writes if the generation it was armed with is current.
	gen uint64

	unsubscribe func()
	closed      bool

	// notices are hook calls queued under the lock and run by unlock.
	notices []func()
}

// Open starts a session for document id with the given baseline.
//
// The baseline is compared with the draft stored under integrity.DraftKey(id)
// as described in the package documentation. A draft that fails its
// integrity check is logged and treated as absent. Once reconciled, the
// session subscribes to deps.Channel and announces itself with an OPENED
// message.
func Open(ctx context.Context, id string, baseline any, deps Deps, opts ...Option) (*Session, error) {
	if id == "" {
		return nil, errors.New("draft: document id is required")
	}
	if deps.Store == nil {
		return nil, errors.New("draft: store is required")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.origin == "" {
		o.origin = broadcast.NewOrigin()
	}

	s := &Session{
		id:       id,
		key:      integrity.DraftKey(id),
		origin:   o.origin,
		store:    deps.Store,
		channel:  deps.Channel,
		clock:    clock.Or(deps.Clock),
		logger:   deps.Logger,
		debounce: o.debounce,
		volatile: o.volatile,
		hooks:    o.hooks,
		state:    StateInitializing,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("doc", id, "origin", s.origin)

	baselineFP, err := canonical.Fingerprint(baseline, s.volatile)
	if err != nil {
		return nil, fmt.Errorf("draft: fingerprint baseline: %w", err)
	}

	s.mu.Lock()
	err = s.reconcileLocked(ctx, baselineFP)
	s.unlock()
	if err != nil {
		return nil, err
	}

	if s.channel != nil {
		s.unsubscribe = s.channel.Subscribe(s.receive)
		s.publish(ctx, broadcast.TypeOpened)
	}
	return s, nil
}

// reconcileLocked decides between Clean and Conflict.
func (s *Session) reconcileLocked(ctx context.Context, baselineFP string) error {
	s.baselineFP = baselineFP
	s.settledFP = baselineFP

	raw, ok, err := s.store.LoadRaw(ctx, s.key)
	switch {
	case integrity.IsIntegrityError(err):
		s.logger.Warn("stored draft is corrupted, ignoring it", "key", s.key, "error", err)
		ok = false
	case err != nil:
		return fmt.Errorf("draft: load %s: %w", s.key, err)
	}

	if !ok {
		s.setStateLocked(StateClean)
		return nil
	}

	draftFP, err := canonical.Fingerprint(raw, s.volatile)
	if err != nil {
		return fmt.Errorf("draft: fingerprint %s: %w", s.key, err)
	}

	if draftFP == baselineFP {
		if err := s.store.Remove(ctx, s.key); err != nil {
			s.logger.Warn("could not remove no-op draft", "key", s.key, "error", err)
		} else {
			s.logger.Info("removed draft identical to baseline", "key", s.key)
		}
		s.setStateLocked(StateClean)
		return nil
	}

	s.logger.Info("stored draft differs from baseline, autosave disabled", "key", s.key)
	s.decision = DecisionUnresolved
	s.setStateLocked(StateConflict)
	return nil
}

// Observe reports the current edited document.
//
// Outside Conflict, a document matching the settled fingerprint cancels any
// pending save and marks the session Saved; any other document becomes the
// pending draft and re-arms the debounce timer. During Conflict nothing is
// written.
func (s *Session) Observe(doc any) error {
	fp, err := canonical.Fingerprint(doc, s.volatile)
	if err != nil {
		return fmt.Errorf("draft: fingerprint document: %w", err)
	}

	s.mu.Lock()
	defer s.unlock()

	if s.closed {
		return ErrClosed
	}
	if s.state == StateConflict {
		s.logger.Debug("change ignored, draft conflict unresolved")
		return nil
	}

	s.cancelPendingLocked()
	if fp == s.settledFP {
		s.logger.Debug("change matches settled draft, nothing to save")
		s.setStateLocked(StateSaved)
		return nil
	}

	s.pending = doc
	s.pendingFP = fp
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.debounce, func() { s.fire(gen) })
	s.logger.Debug("change observed, save scheduled", "debounce", s.debounce)
	s.setStateLocked(StateDirty)
	return nil
}

// fire runs when the debounce timer for generation gen expires.
func (s *Session) fire(gen uint64) {
	s.mu.Lock()
	defer s.unlock()

	if s.closed || gen != s.gen || s.state != StateDirty {
		return
	}
	s.timer = nil
	_ = s.saveLocked(context.Background())
}

// Flush writes a pending change immediately instead of waiting for the
// debounce timer. It does nothing when no change is pending.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()

	if s.closed {
		return ErrClosed
	}
	if s.state != StateDirty {
		return nil
	}
	s.stopTimerLocked()
	s.gen++
	return s.saveLocked(ctx)
}

// saveLocked writes the pending document as a draft.
func (s *Session) saveLocked(ctx context.Context) error {
	s.setStateLocked(StateSaving)

	if err := s.store.Save(ctx, s.key, s.pending, true); err != nil {
		se := newSaveError(s.key, err)
		s.lastErr = se
		s.logger.Error("draft save failed", "key", s.key, "error", err, "advice", se.Advice)
		s.setStateLocked(StateError)
		if h := s.hooks.OnSaveError; h != nil {
			s.notices = append(s.notices, func() { h(se) })
		}
		return se
	}

	s.settledFP = s.pendingFP
	s.pending = nil
	s.pendingFP = ""
	s.lastErr = nil
	s.logger.Debug("draft saved", "key", s.key)
	s.setStateLocked(StateSaved)
	if h := s.hooks.OnSaved; h != nil {
		key := s.key
		s.notices = append(s.notices, func() { h(key) })
	}
	s.publish(ctx, broadcast.TypeSaved)
	return nil
}

// RecoverDraft returns the verified stored draft. It does not change the
// session state.
func (s *Session) RecoverDraft(ctx context.Context) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.unlock()

	if s.closed {
		return nil, ErrClosed
	}
	return s.loadDraftLocked(ctx)
}

// RecoverDraftAs decodes the stored draft into T.
func RecoverDraftAs[T any](ctx context.Context, s *Session) (T, error) {
	var out T
	raw, err := s.RecoverDraft(ctx)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		var zero T
		return zero, fmt.Errorf("draft: decode %s: %w", s.key, err)
	}
	return out, nil
}

// AcceptDraft resolves a conflict in favor of the stored draft and returns
// it. The draft becomes the working copy: it stays in storage, its
// fingerprint becomes the settled one and autosave is enabled.
func (s *Session) AcceptDraft(ctx context.Context) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.state != StateConflict {
		return nil, ErrNoConflict
	}

	raw, err := s.loadDraftLocked(ctx)
	if err != nil {
		return nil, err
	}
	fp, err := canonical.Fingerprint(raw, s.volatile)
	if err != nil {
		return nil, fmt.Errorf("draft: fingerprint %s: %w", s.key, err)
	}

	s.settledFP = fp
	s.decision = DecisionRecovered
	s.logger.Info("stored draft accepted", "key", s.key)
	s.setStateLocked(StateClean)
	return raw, nil
}

// ClearDraft resolves a conflict by deleting the stored draft. The baseline
// becomes the settled document and autosave is enabled. Outside Conflict it
// does nothing, so a second call is harmless.
func (s *Session) ClearDraft(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()

	if s.closed {
		return ErrClosed
	}
	if s.state != StateConflict {
		return nil
	}
	if err := s.store.Remove(ctx, s.key); err != nil {
		return fmt.Errorf("draft: clear %s: %w", s.key, err)
	}

	s.settledFP = s.baselineFP
	s.decision = DecisionDiscarded
	s.logger.Info("stored draft discarded", "key", s.key)
	s.setStateLocked(StateClean)
	return nil
}

// Reload reads the latest stored draft, typically after another session
// saved it. The loaded draft becomes the settled document, any pending
// local change is dropped and the stale warning is cleared.
//
// Returns (nil, false, nil) when there is no stored draft; the pending
// change, if any, is then kept.
func (s *Session) Reload(ctx context.Context) (json.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.unlock()

	if s.closed {
		return nil, false, ErrClosed
	}
	if s.state == StateConflict {
		return nil, false, ErrConflict
	}

	raw, err := s.loadDraftLocked(ctx)
	if errors.Is(err, ErrNoDraft) {
		s.warnings.Stale = false
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	fp, err := canonical.Fingerprint(raw, s.volatile)
	if err != nil {
		return nil, false, fmt.Errorf("draft: fingerprint %s: %w", s.key, err)
	}

	s.cancelPendingLocked()
	s.settledFP = fp
	s.warnings.Stale = false
	s.lastErr = nil
	s.setStateLocked(StateSaved)
	return raw, true, nil
}

func (s *Session) loadDraftLocked(ctx context.Context) (json.RawMessage, error) {
	raw, ok, err := s.store.LoadRaw(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("draft: load %s: %w", s.key, err)
	}
	if !ok {
		return nil, ErrNoDraft
	}
	return raw, nil
}

// Close cancels any pending save and stops listening to the channel. It
// does not flush. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancelPendingLocked()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	return nil
}

// ID returns the document id.
func (s *Session) ID() string { return s.id }

// Key returns the storage key of the session's draft.
func (s *Session) Key() string { return s.key }

// Origin returns the id stamped on this session's messages.
func (s *Session) Origin() string { return s.origin }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the user-facing save indicator.
func (s *Session) Status() Status {
	return s.State().Status()
}

// Decision returns how the draft conflict, if any, was resolved.
func (s *Session) Decision() Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decision
}

// Warnings returns the advisory flags raised by other sessions.
func (s *Session) Warnings() Warnings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.warnings
}

// Err returns the error of the last failed save, or nil after a successful
// one.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr == nil {
		return nil
	}
	return s.lastErr
}

// receive handles a message from another session.
func (s *Session) receive(m broadcast.Message) {
	if m.Origin == s.origin || m.ID != s.id {
		return
	}

	s.mu.Lock()
	defer s.unlock()

	if s.closed {
		return
	}
	switch m.Type {
	case broadcast.TypeOpened:
		s.warnings.ConcurrentEdit = true
		s.logger.Warn("document opened in another session", "peer", m.Origin)
		if h := s.hooks.OnConcurrentEdit; h != nil {
			s.notices = append(s.notices, func() { h(m) })
		}
	case broadcast.TypeSaved:
		s.warnings.Stale = true
		s.logger.Warn("document saved by another session", "peer", m.Origin)
		if h := s.hooks.OnStale; h != nil {
			s.notices = append(s.notices, func() { h(m) })
		}
	}
}

// publish announces an event. Failures are logged only.
func (s *Session) publish(ctx context.Context, typ broadcast.MessageType) {
	if s.channel == nil {
		return
	}
	m := broadcast.Message{
		Type:   typ,
		ID:     s.id,
		Origin: s.origin,
		SentAt: s.clock.Now().UnixMilli(),
	}
	if err := s.channel.Publish(ctx, m); err != nil {
		s.logger.Warn("broadcast failed", "type", typ, "error", err)
	}
}

// cancelPendingLocked drops any pending change and its timer.
func (s *Session) cancelPendingLocked() {
	s.stopTimerLocked()
	s.gen++
	s.pending = nil
	s.pendingFP = ""
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) setStateLocked(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	if h := s.hooks.OnStateChange; h != nil {
		h(from, to)
	}
}

// unlock releases the mutex and runs queued hook calls.
func (s *Session) unlock() {
	notices := s.notices
	s.notices = nil
	s.mu.Unlock()

	for _, f := range notices {
		f()
	}
}
