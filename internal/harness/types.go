package harness

import (
	"fmt"

	"github.com/roach88/draftkeep/internal/draft"
)

// Trace event types.
const (
	EventState         = "state"
	EventWrite         = "write"
	EventWriteRejected = "write_rejected"
	EventDelete        = "delete"
	EventPublish       = "publish"
	EventWarning       = "warning"
	EventSaveError     = "save_error"
)

// TraceEvent is one observable effect of a scenario.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	AtMs    int64  `json:"at_ms"`
	Type    string `json:"type"`
	Key     string `json:"key,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Message string `json:"message,omitempty"`
	Origin  string `json:"origin,omitempty"`
	Doc     any    `json:"doc,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Token is the short form used by trace_order assertions:
// "state:<to>", "write:<key>", "delete:<key>", "publish:<message>", and so
// on.
func (e TraceEvent) Token() string {
	switch e.Type {
	case EventState:
		return e.Type + ":" + e.To
	case EventPublish, EventWarning:
		return e.Type + ":" + e.Message
	case EventSaveError:
		return e.Type
	default:
		return e.Type + ":" + e.Key
	}
}

func (e TraceEvent) String() string {
	return fmt.Sprintf("#%d +%dms %s", e.Seq, e.AtMs, e.Token())
}

// FinalState is the session as it stood after the last step.
type FinalState struct {
	State    string         `json:"state"`
	Status   string         `json:"status"`
	Decision string         `json:"decision"`
	Warnings draft.Warnings `json:"warnings"`
	// Draft is the verified stored draft, or nil.
	Draft  any `json:"draft"`
	Past   int `json:"past"`
	Future int `json:"future"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
	Final  FinalState   `json:"final"`
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
