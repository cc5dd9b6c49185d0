package integrity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/draftkeep/internal/canonical"
	"github.com/roach88/draftkeep/internal/clock"
	"github.com/roach88/draftkeep/internal/store"
)

// DefaultDraftMaxAge is how old a draft must be before quota remediation
// may evict it.
const DefaultDraftMaxAge = 30 * 24 * time.Hour

// Backend is the raw key-value storage the Store writes records into.
// Implemented by store.SQLite and store.Memory.
//
// Set must fail with store.ErrQuotaExceeded (possibly wrapped) when the
// value does not fit, and must leave existing keys untouched in that case.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Store is the integrity-checked record store.
//
// Thread-safety: Store holds no mutable state of its own; concurrent use is
// as safe as the Backend. Writes to one key are last-writer-wins.
type Store struct {
	backend     Backend
	clock       clock.Clock
	logger      *slog.Logger
	draftMaxAge time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for record timestamps and eviction age.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = clock.Or(c)
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDraftMaxAge sets the age threshold used by quota remediation.
//
// Default: 30 days (DefaultDraftMaxAge)
func WithDraftMaxAge(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.draftMaxAge = d
		}
	}
}

// New creates a Store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:     backend,
		clock:       clock.Real{},
		logger:      slog.Default(),
		draftMaxAge: DefaultDraftMaxAge,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save writes data under key as a fresh record, replacing any previous one.
//
// On a capacity failure the quota remediation runs once (see remediate).
// Errors are always *StorageError.
func (s *Store) Save(ctx context.Context, key string, data any, isDraft bool) error {
	value, err := s.encode(data, isDraft)
	if err != nil {
		return newSerializationError(key, err)
	}

	err = s.backend.Set(ctx, key, value)
	if err == nil {
		s.logger.Debug("record saved", "key", key, "draft", isDraft, "bytes", len(value))
		return nil
	}
	if !errors.Is(err, store.ErrQuotaExceeded) {
		return newUnknownError(key, err)
	}
	return s.remediate(ctx, key, value, err)
}

// encode builds the serialized record for data.
func (s *Store) encode(data any, isDraft bool) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	hash, err := canonical.RecordHash(raw)
	if err != nil {
		return "", err
	}

	rec := StorageRecord{
		Data:          raw,
		Timestamp:     s.clock.Now().UnixMilli(),
		Hash:          hash,
		SchemaVersion: SchemaVersion,
		IsDraft:       isDraft,
	}
	out, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// LoadRaw returns the verified payload stored under key.
//
// Returns (nil, false, nil) when the key is absent. A record that cannot be
// parsed or whose hash does not verify yields (nil, false, *StorageError
// with CodeIntegrityMismatch); its payload is never returned.
func (s *Store) LoadRaw(ctx context.Context, key string) (json.RawMessage, bool, error) {
	value, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, false, newUnknownError(key, err)
	}
	if !ok {
		return nil, false, nil
	}

	rec, err := parseRecord(value)
	if err == nil {
		err = rec.verify()
	}
	if err != nil {
		s.logger.Error("integrity check failed, discarding payload", "key", key, "error", err)
		return nil, false, newIntegrityError(key, err)
	}
	return rec.Data, true, nil
}

// Load decodes the verified payload stored under key into out.
// out is left untouched unless Load returns true.
func (s *Store) Load(ctx context.Context, key string, out any) (bool, error) {
	raw, ok, err := s.LoadRaw(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, newSerializationError(key, fmt.Errorf("decode payload: %w", err))
	}
	return true, nil
}

// LoadAs is the generic form of Load.
func LoadAs[T any](ctx context.Context, s *Store, key string) (T, bool, error) {
	var out T
	ok, err := s.Load(ctx, key, &out)
	if err != nil || !ok {
		var zero T
		return zero, false, err
	}
	return out, true, nil
}

// TimestampOf returns the write time of the record under key in epoch
// milliseconds, or 0 if the key is absent or the record unparsable.
func (s *Store) TimestampOf(ctx context.Context, key string) int64 {
	value, ok, err := s.backend.Get(ctx, key)
	if err != nil || !ok {
		return 0
	}
	rec, err := parseRecord(value)
	if err != nil {
		return 0
	}
	return rec.Timestamp
}

// Remove deletes the record under key. Removing a missing key is a no-op.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		return newUnknownError(key, err)
	}
	return nil
}

// RecordInfo describes one stored record without exposing its payload.
type RecordInfo struct {
	Key           string `json:"key"`
	Timestamp     int64  `json:"timestamp"`
	IsDraft       bool   `json:"is_draft"`
	SchemaVersion int    `json:"schema_version"`
	Size          int    `json:"size"`
	Verified      bool   `json:"verified"`
	Problem       string `json:"problem,omitempty"`
}

// Inspect lists every record whose key starts with prefix, verifying each.
func (s *Store) Inspect(ctx context.Context, prefix string) ([]RecordInfo, error) {
	keys, err := s.backend.Keys(ctx, prefix)
	if err != nil {
		return nil, newUnknownError(prefix, err)
	}

	infos := make([]RecordInfo, 0, len(keys))
	for _, key := range keys {
		value, ok, err := s.backend.Get(ctx, key)
		if err != nil {
			return nil, newUnknownError(key, err)
		}
		if !ok {
			continue // removed since Keys
		}

		info := RecordInfo{Key: key, Size: len(key) + len(value)}
		rec, err := parseRecord(value)
		if err == nil {
			info.Timestamp = rec.Timestamp
			info.IsDraft = rec.IsDraft
			info.SchemaVersion = rec.SchemaVersion
			err = rec.verify()
		}
		if err != nil {
			info.Problem = err.Error()
		} else {
			info.Verified = true
		}
		infos = append(infos, info)
	}
	return infos, nil
}
