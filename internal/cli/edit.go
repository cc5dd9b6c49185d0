package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/draftkeep/internal/broadcast"
	"github.com/roach88/draftkeep/internal/canonical"
	"github.com/roach88/draftkeep/internal/draft"
	"github.com/roach88/draftkeep/internal/history"
	"github.com/roach88/draftkeep/internal/integrity"
)

// EditOptions holds flags for the edit command.
type EditOptions struct {
	*RootOptions
	Baseline string
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit a document with autosaved drafts",
		Long: `Open an editing session for document id and read commands from stdin.

The baseline is the document as loaded from its source: the file given
with --baseline, or the record stored under sheet:<id>. A stored draft
that differs from the baseline must be accepted or discarded before
autosave resumes.

Commands:
  set <json>   replace the document
  undo, redo   step through the edit history
  show         print the current document
  recover      print the stored draft
  accept       continue from the stored draft
  discard      delete the stored draft
  flush        save a pending change now
  reload       adopt the draft saved by another session
  status       print the session status
  quit         save any pending change and exit

Example:
  draftkeep edit 42 --baseline recipe.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Baseline, "baseline", "", "JSON file with the loaded document (default: sheet:<id> record)")

	return cmd
}

// EditStatus is the answer to the status command.
type EditStatus struct {
	ID       string         `json:"id"`
	State    string         `json:"state"`
	Status   string         `json:"status"`
	Decision string         `json:"decision"`
	Warnings draft.Warnings `json:"warnings"`
	CanUndo  bool           `json:"can_undo"`
	CanRedo  bool           `json:"can_redo"`
	Error    string         `json:"error,omitempty"`
}

func (s EditStatus) String() string {
	line := fmt.Sprintf("state=%s status=%s decision=%s concurrent_edit=%t stale=%t undo=%t redo=%t",
		s.State, s.Status, s.Decision, s.Warnings.ConcurrentEdit, s.Warnings.Stale, s.CanUndo, s.CanRedo)
	if s.Error != "" {
		line += " error=" + s.Error
	}
	return line
}

// EditNotice is one line of session output.
type EditNotice struct {
	Event   string `json:"event"`
	Message string `json:"message,omitempty"`
	Doc     any    `json:"doc,omitempty"`
}

func (n EditNotice) String() string {
	if n.Doc == nil {
		return n.Event + ": " + n.Message
	}
	doc, err := canonical.Marshal(n.Doc)
	if err != nil {
		doc = []byte(fmt.Sprint(n.Doc))
	}
	if n.Message == "" {
		return n.Event + ": " + string(doc)
	}
	return fmt.Sprintf("%s: %s %s", n.Event, n.Message, doc)
}

// editor executes edit commands against one session.
type editor struct {
	env     *env
	out     *OutputFormatter
	session *draft.Session
	history *history.History[any]
}

func runEdit(opts *EditOptions, id string, cmd *cobra.Command) error {
	e, err := openEnv(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := signalContext(cmd, e.logger)
	defer cancel()

	baseline, err := loadBaseline(ctx, e, opts.Baseline, id)
	if err != nil {
		return err
	}

	origin := broadcast.NewOrigin()
	ch, err := e.openChannel(origin)
	if err != nil {
		return err
	}
	defer ch.Close()

	ed := &editor{
		env: e,
		out: newFormatter(cmd, opts.RootOptions),
		history: history.New[any](baseline,
			history.WithLimit(e.cfg.HistoryLimit),
		),
	}

	sess, err := draft.Open(ctx, id, baseline, draft.Deps{
		Store:   e.store,
		Channel: ch,
		Logger:  e.logger,
	},
		draft.WithOrigin(origin),
		draft.WithDebounce(e.cfg.Debounce),
		draft.WithVolatileFields(e.cfg.VolatileFields...),
		draft.WithHooks(ed.hooks()),
	)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open session", err)
	}
	ed.session = sess
	defer sess.Close()

	if sess.State() == draft.StateConflict {
		ed.notice("conflict", "a stored draft differs from the baseline: recover, accept or discard it", nil)
	}

	ed.loop(ctx, cmd.InOrStdin())

	// Pending changes are saved on the way out, even after an interrupt.
	if err := sess.Flush(context.WithoutCancel(ctx)); err != nil && !draft.IsSaveError(err) {
		ed.fail(err)
	}
	return nil
}

// loadBaseline reads the baseline from path, or from the sheet record.
func loadBaseline(ctx context.Context, e *env, path, id string) (any, error) {
	if path != "" {
		return readDocument(path)
	}

	key := integrity.SheetKey(id)
	raw, ok, err := e.store.LoadRaw(ctx, key)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to load baseline", err)
	}
	if !ok {
		return nil, NewExitError(ExitCommandError,
			fmt.Sprintf("no baseline for %s: pass --baseline or store %s first", id, key))
	}
	return decodePayload(raw), nil
}

// loop reads commands until quit, end of input or cancellation.
func (ed *editor) loop(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 16<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			verb, arg, _ := strings.Cut(line, " ")
			quit, err := ed.exec(ctx, verb, strings.TrimSpace(arg))
			if err != nil {
				ed.fail(err)
			}
			if quit {
				return
			}
		}
	}
}

// exec runs one command. It reports whether the session should end.
func (ed *editor) exec(ctx context.Context, verb, arg string) (bool, error) {
	switch verb {
	case "set":
		doc, err := canonical.Decode([]byte(arg))
		if err != nil {
			return false, fmt.Errorf("set: %w", err)
		}
		ed.history.Push(doc, ed.env.cfg.HistoryCoalesce)
		return false, ed.session.Observe(doc)

	case "undo":
		if !ed.history.Undo() {
			ed.notice("history", "nothing to undo", nil)
			return false, nil
		}
		return false, ed.session.Observe(ed.history.Present())

	case "redo":
		if !ed.history.Redo() {
			ed.notice("history", "nothing to redo", nil)
			return false, nil
		}
		return false, ed.session.Observe(ed.history.Present())

	case "show":
		ed.notice("document", "", ed.history.Present())

	case "recover":
		raw, err := ed.session.RecoverDraft(ctx)
		if err != nil {
			return false, err
		}
		ed.notice("draft", "", decodePayload(raw))

	case "accept":
		raw, err := ed.session.AcceptDraft(ctx)
		if err != nil {
			return false, err
		}
		doc := decodePayload(raw)
		ed.history.Set(doc)
		ed.notice("draft", "accepted", doc)

	case "discard":
		if err := ed.session.ClearDraft(ctx); err != nil {
			return false, err
		}
		ed.notice("draft", "discarded", nil)

	case "flush":
		err := ed.session.Flush(ctx)
		if draft.IsSaveError(err) {
			// Already reported by the save error hook.
			return false, nil
		}
		return false, err

	case "reload":
		raw, ok, err := ed.session.Reload(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			ed.notice("draft", "no stored draft", nil)
			return false, nil
		}
		doc := decodePayload(raw)
		ed.history.Set(doc)
		ed.notice("draft", "reloaded", doc)

	case "status":
		_ = ed.out.Success(ed.status())

	case "quit", "exit":
		return true, nil

	default:
		return false, fmt.Errorf("unknown command %q", verb)
	}
	return false, nil
}

func (ed *editor) status() EditStatus {
	s := EditStatus{
		ID:       ed.session.ID(),
		State:    ed.session.State().String(),
		Status:   string(ed.session.Status()),
		Decision: ed.session.Decision().String(),
		Warnings: ed.session.Warnings(),
		CanUndo:  ed.history.CanUndo(),
		CanRedo:  ed.history.CanRedo(),
	}
	if err := ed.session.Err(); err != nil {
		s.Error = err.Error()
	}
	return s
}

// hooks reports session events as notices. They may run on timer and
// channel goroutines; the formatter serializes output.
func (ed *editor) hooks() draft.Hooks {
	return draft.Hooks{
		OnStateChange: func(from, to draft.State) {
			ed.notice("state", from.String()+" -> "+to.String(), nil)
		},
		OnConcurrentEdit: func(m broadcast.Message) {
			ed.notice("warning", "document opened in another session", nil)
		},
		OnStale: func(m broadcast.Message) {
			ed.notice("warning", "another session saved this document: reload to adopt its draft", nil)
		},
		OnSaveError: func(se *draft.SaveError) {
			_ = ed.out.Error(storageErrorCode(se), se.Advice, se.Err.Error())
		},
	}
}

func (ed *editor) notice(event, message string, doc any) {
	_ = ed.out.Success(EditNotice{Event: event, Message: message, Doc: doc})
}

func (ed *editor) fail(err error) {
	code := CodeSession
	var se *integrity.StorageError
	if errors.As(err, &se) {
		code = storageErrorCode(err)
	}
	_ = ed.out.Error(code, err.Error(), nil)
}
