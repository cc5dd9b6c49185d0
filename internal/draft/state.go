package draft

// State is the session's position in the autosave lifecycle.
type State int

const (
	// StateInitializing is held only while Open runs.
	StateInitializing State = iota
	// StateClean means nothing needs saving and autosave is enabled.
	StateClean
	// StateConflict means a stored draft differs from the baseline and the
	// caller has not decided what to do with it. Autosave is disabled.
	StateConflict
	// StateDirty means a change is waiting for the debounce timer.
	StateDirty
	// StateSaving means a draft write is in progress.
	StateSaving
	// StateSaved means the observed document matches the settled draft.
	StateSaved
	// StateError means the last draft write failed. See Session.Err.
	StateError
)

var stateNames = map[State]string{
	StateInitializing: "initializing",
	StateClean:        "clean",
	StateConflict:     "conflict",
	StateDirty:        "dirty",
	StateSaving:       "saving",
	StateSaved:        "saved",
	StateError:        "error",
}

// String returns the lower-case state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseState returns the State named name.
func ParseState(name string) (State, bool) {
	for s, n := range stateNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// Status is the save indicator shown to the user.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusSaving   Status = "saving"
	StatusSaved    Status = "saved"
	StatusError    Status = "error"
	StatusConflict Status = "conflict"
)

// Status maps the state to the user-facing save indicator.
func (s State) Status() Status {
	switch s {
	case StateDirty, StateSaving:
		return StatusSaving
	case StateSaved:
		return StatusSaved
	case StateError:
		return StatusError
	case StateConflict:
		return StatusConflict
	default:
		return StatusIdle
	}
}

// Decision records how a draft conflict was resolved. It is never
// persisted.
type Decision int

const (
	// DecisionNone means no conflict was raised in this session.
	DecisionNone Decision = iota
	DecisionUnresolved
	DecisionRecovered
	DecisionDiscarded
)

// String returns the lower-case decision name.
func (d Decision) String() string {
	switch d {
	case DecisionUnresolved:
		return "unresolved"
	case DecisionRecovered:
		return "recovered"
	case DecisionDiscarded:
		return "discarded"
	default:
		return "none"
	}
}

// Warnings are the advisory flags raised by other sessions.
type Warnings struct {
	// ConcurrentEdit is set when another session opened the same document.
	ConcurrentEdit bool `json:"concurrent_edit"`
	// Stale is set when another session saved a draft of the same
	// document after this one loaded it.
	Stale bool `json:"stale"`
}
