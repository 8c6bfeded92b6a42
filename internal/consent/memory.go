package consent

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type key struct {
	subject string
	purpose Purpose
}

// MemoryStore keeps consent records in process memory.
type MemoryStore struct {
	tracker

	mu      sync.RWMutex
	records map[key]Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		tracker: newTracker(opts),
		records: make(map[key]Record),
	}
}

// Grant records consent. A later grant for the same pair replaces the earlier
// one, including its expiry.
func (s *MemoryStore) Grant(ctx context.Context, subjectID string, purpose Purpose, opts GrantOptions) error {
	r, err := newGrant(subjectID, purpose, opts, s.clock())
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.records[key{subjectID, purpose}] = r
	s.mu.Unlock()

	s.log.Debug("consent granted", zap.String("purpose", string(purpose)))
	s.grantEvent(ctx, r)
	return nil
}

// Revoke withdraws consent. Revoking a pair that was never granted, or is
// already revoked, changes nothing. An empty subject or purpose can hold no
// grant, so it succeeds without an event.
func (s *MemoryStore) Revoke(ctx context.Context, subjectID string, purpose Purpose) error {
	if checkKey(subjectID, purpose) != nil {
		return nil
	}
	now := s.clock()

	s.mu.Lock()
	k := key{subjectID, purpose}
	r, ok := s.records[k]
	hadGrant := ok && r.Granted
	if hadGrant {
		r.Granted = false
		r.RevokedAt = &now
		s.records[k] = r
	}
	s.mu.Unlock()

	s.revokeEvent(ctx, subjectID, purpose, hadGrant)
	return nil
}

// Check reports whether consent is currently active.
func (s *MemoryStore) Check(_ context.Context, subjectID string, purpose Purpose) (bool, error) {
	s.mu.RLock()
	r, ok := s.records[key{subjectID, purpose}]
	s.mu.RUnlock()
	return ok && r.Active(s.clock()), nil
}

// Get returns a copy of the stored record.
func (s *MemoryStore) Get(_ context.Context, subjectID string, purpose Purpose) (Record, bool, error) {
	s.mu.RLock()
	r, ok := s.records[key{subjectID, purpose}]
	s.mu.RUnlock()
	if !ok {
		return Record{}, false, nil
	}
	return cloneRecord(r), true, nil
}

// Clear removes every record.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	n := int64(len(s.records))
	s.records = make(map[key]Record)
	s.mu.Unlock()

	s.clearEvent(ctx, n)
	return nil
}
