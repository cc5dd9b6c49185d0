package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/draftkeep/internal/draft"
)

// Scenario is a scripted editing session.
type Scenario struct {
	// Name uniquely identifies this scenario. Also the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// ID is the document id being edited.
	ID string `yaml:"id"`

	// Baseline is the freshly loaded document the session starts from.
	Baseline any `yaml:"baseline"`

	// Draft, if set, is stored as the document's draft before the session
	// opens.
	Draft any `yaml:"draft,omitempty"`

	// Setup lists further records stored before the session opens.
	Setup []SetupRecord `yaml:"setup,omitempty"`

	// Debounce is the autosave window. Default: draft.DefaultDebounce.
	Debounce time.Duration `yaml:"debounce,omitempty"`

	// Coalesce is the history coalescing window used by edit steps.
	// Zero makes every edit its own undo step.
	Coalesce time.Duration `yaml:"coalesce,omitempty"`

	// HistoryLimit bounds the undo stack. Default: history.DefaultLimit.
	HistoryLimit int `yaml:"history_limit,omitempty"`

	// QuotaBytes caps the in-memory backend. Zero means unlimited.
	QuotaBytes int64 `yaml:"quota_bytes,omitempty"`

	// DraftMaxAge is the quota remediation threshold.
	// Default: integrity.DefaultDraftMaxAge.
	DraftMaxAge time.Duration `yaml:"draft_max_age,omitempty"`

	// Steps drive and check the session, in order.
	Steps []Step `yaml:"steps"`

	// Assertions check the trace once all steps ran.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// SetupRecord is a record written before the session opens.
type SetupRecord struct {
	Key   string `yaml:"key"`
	Doc   any    `yaml:"doc"`
	Draft bool   `yaml:"draft,omitempty"`
	// Age back-dates the record relative to the session start.
	Age time.Duration `yaml:"age,omitempty"`
}

// Step is one scenario step. Action selects which other fields apply.
type Step struct {
	Action string `yaml:"action"`

	// Doc is the edited document (edit), the peer's saved draft
	// (peer_saved), or the expected document (recover, accept, reload,
	// expect_draft).
	Doc any `yaml:"doc,omitempty"`

	// Duration is how far to move the clock (advance).
	Duration time.Duration `yaml:"duration,omitempty"`

	State    string          `yaml:"state,omitempty"`
	Status   string          `yaml:"status,omitempty"`
	Warnings *WarningsExpect `yaml:"warnings,omitempty"`
	Past     *int            `yaml:"past,omitempty"`
	Future   *int            `yaml:"future,omitempty"`

	// Error, if set, is a substring the operation's error must contain.
	Error string `yaml:"error,omitempty"`
}

// WarningsExpect is a subset match on draft.Warnings.
type WarningsExpect struct {
	ConcurrentEdit *bool `yaml:"concurrent_edit,omitempty"`
	Stale          *bool `yaml:"stale,omitempty"`
}

// Step actions.
const (
	ActionEdit       = "edit"
	ActionUndo       = "undo"
	ActionRedo       = "redo"
	ActionAdvance    = "advance"
	ActionRecover    = "recover"
	ActionAccept     = "accept"
	ActionClear      = "clear"
	ActionFlush      = "flush"
	ActionReload     = "reload"
	ActionPeerOpened = "peer_opened"
	ActionPeerSaved  = "peer_saved"

	ExpectState    = "expect_state"
	ExpectStatus   = "expect_status"
	ExpectDraft    = "expect_draft"
	ExpectNoDraft  = "expect_no_draft"
	ExpectWarnings = "expect_warnings"
	ExpectHistory  = "expect_history"
)

// Assertion checks the final trace.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count.
	Type string `yaml:"type"`

	// Event and Key select events (trace_contains, trace_count).
	// An empty Key matches any key.
	Event string `yaml:"event,omitempty"`
	Key   string `yaml:"key,omitempty"`

	// Doc is a subset match on the event document (trace_contains).
	Doc map[string]any `yaml:"doc,omitempty"`

	// Count is the expected number of matches (trace_count).
	Count int `yaml:"count,omitempty"`

	// Events are event tokens expected in this order (trace_order).
	Events []string `yaml:"events,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "step:" vs "steps:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if s.Baseline == nil {
		return fmt.Errorf("baseline is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.QuotaBytes < 0 {
		return fmt.Errorf("quota_bytes must be non-negative")
	}

	for i, rec := range s.Setup {
		if rec.Key == "" {
			return fmt.Errorf("setup[%d]: key is required", i)
		}
		if rec.Age < 0 {
			return fmt.Errorf("setup[%d]: age must be non-negative", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step *Step) error {
	switch step.Action {
	case "":
		return fmt.Errorf("steps[%d]: action is required", i)
	case ActionEdit, ExpectDraft:
		if step.Doc == nil {
			return fmt.Errorf("steps[%d]: doc is required for %s", i, step.Action)
		}
	case ActionAdvance:
		if step.Duration <= 0 {
			return fmt.Errorf("steps[%d]: positive duration is required for advance", i)
		}
	case ExpectState:
		if _, ok := draft.ParseState(step.State); !ok {
			return fmt.Errorf("steps[%d]: unknown state %q", i, step.State)
		}
	case ExpectStatus:
		if step.Status == "" {
			return fmt.Errorf("steps[%d]: status is required for expect_status", i)
		}
	case ExpectWarnings:
		if step.Warnings == nil {
			return fmt.Errorf("steps[%d]: warnings is required for expect_warnings", i)
		}
	case ExpectHistory:
		if step.Past == nil && step.Future == nil {
			return fmt.Errorf("steps[%d]: past or future is required for expect_history", i)
		}
	case ActionUndo, ActionRedo, ActionRecover, ActionAccept, ActionClear,
		ActionFlush, ActionReload, ActionPeerOpened, ActionPeerSaved, ExpectNoDraft:
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", i, step.Action)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
