package draft

import (
	"errors"
	"fmt"

	"github.com/roach88/draftkeep/internal/integrity"
)

var (
	// ErrClosed is returned by operations on a closed Session.
	ErrClosed = errors.New("draft: session closed")

	// ErrNoDraft is returned when an operation needs a stored draft and
	// there is none.
	ErrNoDraft = errors.New("draft: no stored draft")

	// ErrNoConflict is returned by AcceptDraft outside StateConflict.
	ErrNoConflict = errors.New("draft: no unresolved conflict")

	// ErrConflict is returned by Reload while a conflict is unresolved.
	ErrConflict = errors.New("draft: conflict unresolved")
)

// Advice shown to the user when a draft cannot be saved.
const (
	AdviceQuota         = "storage is full: export a backup and free space"
	AdviceSerialization = "the document contains values that cannot be saved"
	AdviceUnknown       = "the draft could not be saved: check local storage and try again"
)

// SaveError reports a failed autosave with an actionable message.
type SaveError struct {
	Key    string
	Advice string
	Err    error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save %s: %v (%s)", e.Key, e.Err, e.Advice)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

func newSaveError(key string, err error) *SaveError {
	advice := AdviceUnknown
	switch {
	case integrity.IsQuotaError(err):
		advice = AdviceQuota
	case integrity.IsSerializationError(err):
		advice = AdviceSerialization
	}
	return &SaveError{Key: key, Advice: advice, Err: err}
}

// IsSaveError reports whether err is or wraps a *SaveError.
func IsSaveError(err error) bool {
	var se *SaveError
	return errors.As(err, &se)
}
