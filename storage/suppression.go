package storage

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const suppressionCacheSize = 100_000

// MemorySuppressionStore is the process-local SuppressionStore. Entries carry
// their own expiry timestamp; the cache TTL is only a backstop eviction for
// keys nobody reads again.
type MemorySuppressionStore struct {
	suppressions *expirable.LRU[string, time.Time]
	firings      *expirable.LRU[string, firingEntry]
	now          func() time.Time
}

type firingEntry struct {
	firedAt time.Time
	expires time.Time
}

// NewMemorySuppressionStore creates the in-memory suppression store.
// maxTTL bounds how long any entry can live regardless of its own expiry.
func NewMemorySuppressionStore(maxTTL time.Duration) *MemorySuppressionStore {
	if maxTTL <= 0 {
		maxTTL = 24 * time.Hour
	}
	return &MemorySuppressionStore{
		suppressions: expirable.NewLRU[string, time.Time](suppressionCacheSize, nil, maxTTL),
		firings:      expirable.NewLRU[string, firingEntry](suppressionCacheSize, nil, maxTTL),
		now:          time.Now,
	}
}

// Suppress implements SuppressionStore
func (s *MemorySuppressionStore) Suppress(_ context.Context, fingerprint string, ttl time.Duration) error {
	s.suppressions.Add(fingerprint, s.now().Add(ttl))
	return nil
}

// IsSuppressed implements SuppressionStore
func (s *MemorySuppressionStore) IsSuppressed(_ context.Context, fingerprint string) (bool, error) {
	expiry, ok := s.suppressions.Get(fingerprint)
	if !ok {
		return false, nil
	}
	if s.now().After(expiry) {
		s.suppressions.Remove(fingerprint)
		return false, nil
	}
	return true, nil
}

// RecordFiring implements SuppressionStore
func (s *MemorySuppressionStore) RecordFiring(_ context.Context, alertType string, at time.Time, ttl time.Duration) error {
	s.firings.Add(alertType, firingEntry{firedAt: at, expires: s.now().Add(ttl)})
	return nil
}

// LastFiring implements SuppressionStore
func (s *MemorySuppressionStore) LastFiring(_ context.Context, alertType string) (time.Time, bool, error) {
	entry, ok := s.firings.Get(alertType)
	if !ok {
		return time.Time{}, false, nil
	}
	if s.now().After(entry.expires) {
		s.firings.Remove(alertType)
		return time.Time{}, false, nil
	}
	return entry.firedAt, true, nil
}

var _ SuppressionStore = (*MemorySuppressionStore)(nil)
