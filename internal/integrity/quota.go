package integrity

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/draftkeep/internal/store"
)

// remediate handles a write the backend rejected for capacity.
//
// The sequence is fixed: evict stale drafts once, retry the write once. A
// second capacity failure is final. This bounds both the work done and the
// amount of user data that can be deleted on behalf of a single write.
func (s *Store) remediate(ctx context.Context, key, value string, cause error) error {
	s.logger.Warn("storage quota exceeded, evicting stale drafts",
		"key", key, "max_age", s.draftMaxAge, "cause", cause)

	evicted, err := s.EvictStaleDrafts(ctx, s.draftMaxAge)
	if err != nil {
		// Keep going: whatever was evicted before the failure still helps.
		s.logger.Warn("stale draft eviction incomplete", "error", err)
	}

	err = s.backend.Set(ctx, key, value)
	switch {
	case err == nil:
		s.logger.Info("write succeeded after eviction", "key", key, "evicted", evicted)
		return nil
	case errors.Is(err, store.ErrQuotaExceeded):
		s.logger.Error("storage quota exceeded after eviction", "key", key, "evicted", evicted)
		return newQuotaError(key, evicted, err)
	default:
		return newUnknownError(key, err)
	}
}

// EvictStaleDrafts removes every draft record older than maxAge, and every
// draft record that cannot be parsed. Non-draft keys are never touched.
// Returns the number of records removed.
func (s *Store) EvictStaleDrafts(ctx context.Context, maxAge time.Duration) (int, error) {
	keys, err := s.backend.Keys(ctx, DraftPrefix)
	if err != nil {
		return 0, newUnknownError(DraftPrefix, err)
	}

	cutoff := s.clock.Now().Add(-maxAge).UnixMilli()
	removed := 0
	for _, key := range keys {
		value, ok, err := s.backend.Get(ctx, key)
		if err != nil {
			return removed, newUnknownError(key, err)
		}
		if !ok {
			continue
		}

		rec, perr := parseRecord(value)
		switch {
		case perr != nil:
			s.logger.Warn("discarding unparsable draft", "key", key, "error", perr)
		case rec.Timestamp < cutoff:
			s.logger.Info("evicting stale draft", "key", key,
				"age", time.Duration(s.clock.Now().UnixMilli()-rec.Timestamp)*time.Millisecond)
		default:
			continue
		}

		if err := s.backend.Delete(ctx, key); err != nil {
			return removed, newUnknownError(key, err)
		}
		removed++
	}
	return removed, nil
}
