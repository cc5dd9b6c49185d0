package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/roach88/draftkeep/internal/broadcast"
	"github.com/roach88/draftkeep/internal/canonical"
	"github.com/roach88/draftkeep/internal/draft"
	"github.com/roach88/draftkeep/internal/history"
	"github.com/roach88/draftkeep/internal/integrity"
	"github.com/roach88/draftkeep/internal/store"
	"github.com/roach88/draftkeep/internal/testutil"
)

// Origins used by every run.
const (
	SessionOrigin = "session"
	PeerOrigin    = "peer"
)

// Harness holds the collaborators of one scenario run.
type Harness struct {
	scenario *Scenario
	clock    *testutil.ManualClock
	store    *integrity.Store
	hub      *broadcast.Hub
	peer     *broadcast.Endpoint
	session  *draft.Session
	history  *history.History[any]
	rec      *recorder
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each run uses a fresh in-memory backend and clock. A failed expectation
// is recorded in the result and the run continues; an error is returned
// only when the scenario cannot be executed at all.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario, nil)
}

// RunContext is Run with a context and an optional logger for the
// components under test. A nil logger discards their output.
func RunContext(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	clk := testutil.NewManualClock(testutil.Epoch)
	rec := newRecorder(clk)

	var storeOpts []store.Option
	if scenario.QuotaBytes > 0 {
		storeOpts = append(storeOpts, store.WithQuota(scenario.QuotaBytes))
	}
	mem := store.NewMemory(storeOpts...)
	defer mem.Close()

	st := integrity.New(&tracingBackend{Backend: mem, rec: rec},
		integrity.WithClock(clk),
		integrity.WithLogger(logger),
		integrity.WithDraftMaxAge(scenario.DraftMaxAge),
	)
	h := &Harness{
		scenario: scenario,
		clock:    clk,
		store:    st,
		hub:      broadcast.NewHub(),
		rec:      rec,
		logger:   logger,
	}

	if err := h.setup(ctx); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	origins := broadcast.NewFixedOrigins(SessionOrigin, PeerOrigin)
	endpoint := h.hub.Join()
	defer endpoint.Close()
	h.peer = h.hub.Join()
	defer h.peer.Close()

	rec.begin()
	sess, err := draft.Open(ctx, scenario.ID, scenario.Baseline, draft.Deps{
		Store:   h.store,
		Channel: &tracingChannel{Channel: endpoint, rec: rec},
		Clock:   clk,
		Logger:  logger,
	},
		draft.WithOrigin(origins.Next()),
		draft.WithDebounce(scenario.Debounce),
		draft.WithHooks(h.hooks()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer sess.Close()
	h.session = sess
	peerOrigin := origins.Next()

	var histOpts []history.Option
	histOpts = append(histOpts, history.WithClock(clk))
	if scenario.HistoryLimit > 0 {
		histOpts = append(histOpts, history.WithLimit(scenario.HistoryLimit))
	}
	h.history = history.New[any](scenario.Baseline, histOpts...)
	h.hub.Wait()

	result := NewResult()
	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step, peerOrigin, result)
		h.hub.Wait()
	}

	result.Trace = rec.trace()
	result.Final = h.final(ctx)

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// setup stores the scenario's pre-existing records, oldest first, so each
// record's timestamp reflects its age at session start.
func (h *Harness) setup(ctx context.Context) error {
	records := append([]SetupRecord(nil), h.scenario.Setup...)
	if h.scenario.Draft != nil {
		records = append(records, SetupRecord{
			Key:   integrity.DraftKey(h.scenario.ID),
			Doc:   h.scenario.Draft,
			Draft: true,
		})
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Age > records[j].Age })

	if len(records) == 0 {
		return nil
	}
	oldest := records[0].Age
	var elapsed time.Duration
	for _, r := range records {
		if offset := oldest - r.Age; offset > elapsed {
			h.clock.Advance(offset - elapsed)
			elapsed = offset
		}
		if err := h.store.Save(ctx, r.Key, r.Doc, r.Draft); err != nil {
			return fmt.Errorf("save %s: %w", r.Key, err)
		}
	}
	if elapsed < oldest {
		h.clock.Advance(oldest - elapsed)
	}
	return nil
}

func (h *Harness) hooks() draft.Hooks {
	return draft.Hooks{
		OnStateChange: func(from, to draft.State) {
			h.rec.add(TraceEvent{Type: EventState, From: from.String(), To: to.String()})
		},
		OnConcurrentEdit: func(m broadcast.Message) {
			h.rec.add(TraceEvent{Type: EventWarning, Message: string(m.Type), Origin: m.Origin})
		},
		OnStale: func(m broadcast.Message) {
			h.rec.add(TraceEvent{Type: EventWarning, Message: string(m.Type), Origin: m.Origin})
		},
		OnSaveError: func(se *draft.SaveError) {
			h.rec.add(TraceEvent{Type: EventSaveError, Key: se.Key, Error: se.Advice})
		},
	}
}

// executeStep runs one step, recording failed expectations in result.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, peerOrigin string, result *Result) {
	fail := func(format string, args ...any) {
		result.AddError(fmt.Sprintf("steps[%d] %s: ", i, step.Action) + fmt.Sprintf(format, args...))
	}

	var err error
	switch step.Action {
	case ActionEdit:
		h.history.Push(step.Doc, h.scenario.Coalesce)
		err = h.session.Observe(step.Doc)

	case ActionUndo:
		if h.history.Undo() {
			err = h.session.Observe(h.history.Present())
		}

	case ActionRedo:
		if h.history.Redo() {
			err = h.session.Observe(h.history.Present())
		}

	case ActionAdvance:
		h.clock.Advance(step.Duration)

	case ActionRecover:
		var raw json.RawMessage
		raw, err = h.session.RecoverDraft(ctx)
		if err == nil {
			h.checkDoc(raw, step.Doc, fail)
		}

	case ActionAccept:
		var raw json.RawMessage
		raw, err = h.session.AcceptDraft(ctx)
		if err == nil {
			h.checkDoc(raw, step.Doc, fail)
			h.adopt(raw)
		}

	case ActionClear:
		err = h.session.ClearDraft(ctx)

	case ActionFlush:
		err = h.session.Flush(ctx)

	case ActionReload:
		var (
			raw json.RawMessage
			ok  bool
		)
		raw, ok, err = h.session.Reload(ctx)
		if err == nil && ok {
			h.checkDoc(raw, step.Doc, fail)
			h.adopt(raw)
		}

	case ActionPeerOpened:
		err = h.publishPeer(ctx, broadcast.TypeOpened, peerOrigin)

	case ActionPeerSaved:
		if step.Doc != nil {
			err = h.store.Save(ctx, integrity.DraftKey(h.scenario.ID), step.Doc, true)
		}
		if err == nil {
			err = h.publishPeer(ctx, broadcast.TypeSaved, peerOrigin)
		}

	case ExpectState:
		if got := h.session.State().String(); got != step.State {
			fail("want %s, got %s", step.State, got)
		}

	case ExpectStatus:
		if got := string(h.session.Status()); got != step.Status {
			fail("want %s, got %s", step.Status, got)
		}

	case ExpectDraft:
		raw, ok, lerr := h.store.LoadRaw(ctx, integrity.DraftKey(h.scenario.ID))
		switch {
		case lerr != nil:
			fail("load draft: %v", lerr)
		case !ok:
			fail("no draft stored")
		default:
			h.checkDoc(raw, step.Doc, fail)
		}

	case ExpectNoDraft:
		if _, ok, _ := h.store.LoadRaw(ctx, integrity.DraftKey(h.scenario.ID)); ok {
			fail("draft is stored")
		}

	case ExpectWarnings:
		h.checkWarnings(step.Warnings, fail)

	case ExpectHistory:
		st := h.history.State()
		if step.Past != nil && len(st.Past) != *step.Past {
			fail("want %d past entries, got %d", *step.Past, len(st.Past))
		}
		if step.Future != nil && len(st.Future) != *step.Future {
			fail("want %d future entries, got %d", *step.Future, len(st.Future))
		}
	}

	switch {
	case step.Error != "" && err == nil:
		fail("expected error containing %q", step.Error)
	case step.Error != "" && !strings.Contains(err.Error(), step.Error):
		fail("expected error containing %q, got %v", step.Error, err)
	case step.Error == "" && err != nil:
		fail("%v", err)
	}
}

func (h *Harness) publishPeer(ctx context.Context, typ broadcast.MessageType, origin string) error {
	m := broadcast.Message{
		Type:   typ,
		ID:     h.scenario.ID,
		Origin: origin,
		SentAt: h.clock.Now().UnixMilli(),
	}
	h.rec.add(TraceEvent{Type: EventPublish, Message: string(typ), Origin: origin})
	return h.peer.Publish(ctx, m)
}

// adopt makes a document loaded from storage the present history entry
// without creating an undo step.
func (h *Harness) adopt(raw json.RawMessage) {
	v, err := canonical.Decode(raw)
	if err != nil {
		h.logger.Warn("cannot adopt document", "error", err)
		return
	}
	h.history.Set(v)
}

func (h *Harness) checkDoc(raw json.RawMessage, want any, fail func(string, ...any)) {
	if want == nil {
		return
	}
	got, err := canonical.FromJSON(raw)
	if err != nil {
		fail("decode document: %v", err)
		return
	}
	exp, err := canonical.Marshal(want)
	if err != nil {
		fail("encode expected document: %v", err)
		return
	}
	if string(got) != string(exp) {
		fail("want %s, got %s", exp, got)
	}
}

func (h *Harness) checkWarnings(want *WarningsExpect, fail func(string, ...any)) {
	got := h.session.Warnings()
	if want.ConcurrentEdit != nil && got.ConcurrentEdit != *want.ConcurrentEdit {
		fail("want concurrent_edit=%t, got %t", *want.ConcurrentEdit, got.ConcurrentEdit)
	}
	if want.Stale != nil && got.Stale != *want.Stale {
		fail("want stale=%t, got %t", *want.Stale, got.Stale)
	}
}

func (h *Harness) final(ctx context.Context) FinalState {
	st := h.history.State()
	fs := FinalState{
		State:    h.session.State().String(),
		Status:   string(h.session.Status()),
		Decision: h.session.Decision().String(),
		Warnings: h.session.Warnings(),
		Past:     len(st.Past),
		Future:   len(st.Future),
	}
	if raw, ok, err := h.store.LoadRaw(ctx, integrity.DraftKey(h.scenario.ID)); err == nil && ok {
		if v, err := canonical.Decode(raw); err == nil {
			fs.Draft = v
		}
	}
	return fs
}
