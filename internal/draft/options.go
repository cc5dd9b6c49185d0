package draft

import (
	"log/slog"
	"time"

	"github.com/roach88/draftkeep/internal/broadcast"
	"github.com/roach88/draftkeep/internal/canonical"
	"github.com/roach88/draftkeep/internal/clock"
	"github.com/roach88/draftkeep/internal/integrity"
)

// DefaultDebounce is the default autosave settle window.
const DefaultDebounce = 2 * time.Second

// Deps are the collaborators a Session needs. Store is required; the rest
// fall back to defaults (no channel, real clock, slog.Default()).
type Deps struct {
	Store   *integrity.Store
	Channel broadcast.Channel
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Hooks are optional callbacks. They run on the goroutine that caused the
// event. Except for OnStateChange they run after the session lock is
// released, so they may call back into the Session.
type Hooks struct {
	// OnStateChange is called for every state transition, in order, with
	// the session lock held. It must not call Session methods.
	OnStateChange func(from, to State)
	// OnConcurrentEdit is called when another session opens the document.
	OnConcurrentEdit func(broadcast.Message)
	// OnStale is called when another session saves the document.
	OnStale func(broadcast.Message)
	// OnSaveError is called when an autosave fails.
	OnSaveError func(*SaveError)
	// OnSaved is called after every successful draft write.
	OnSaved func(key string)
}

// Option configures a Session.
type Option func(*options)

type options struct {
	debounce time.Duration
	volatile []string
	hooks    Hooks
	origin   string
}

func defaultOptions() options {
	return options{
		debounce: DefaultDebounce,
		volatile: canonical.DefaultVolatileFields,
	}
}

// WithDebounce sets the autosave settle window. Non-positive values are
// ignored.
//
// Default: 2s (DefaultDebounce)
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithVolatileFields sets the object members excluded from fingerprints.
// An empty list makes every field significant.
//
// Default: canonical.DefaultVolatileFields
func WithVolatileFields(fields ...string) Option {
	return func(o *options) {
		o.volatile = append([]string(nil), fields...)
	}
}

// WithHooks sets the session callbacks.
func WithHooks(h Hooks) Option {
	return func(o *options) {
		o.hooks = h
	}
}

// WithOrigin fixes the id this session stamps on its messages.
// Defaults to a fresh UUIDv7.
func WithOrigin(origin string) Option {
	return func(o *options) {
		o.origin = origin
	}
}
