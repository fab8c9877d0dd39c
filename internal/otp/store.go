package otp

import (
	"context"
	"sync"
	"time"

	"storefront/internal/models"
)

// RetainAfterExpiry is how long a store keeps a challenge past its deadline
// so that late verifications can still be told it expired.
const RetainAfterExpiry = time.Hour

// Store keeps at most one challenge per key. Implementations must keep a
// challenge until at least ExpiresAt+RetainAfterExpiry unless it is deleted.
type Store interface {
	// Put stores c, replacing any challenge for the same key.
	Put(ctx context.Context, c models.OTPChallenge) error
	// Get returns the challenge for key; ok is false when none is stored.
	Get(ctx context.Context, key string) (c models.OTPChallenge, ok bool, err error)
	Delete(ctx context.Context, key string) error
	// CompareAndDelete removes the challenge for key only if its code is
	// code, reporting whether it did.
	CompareAndDelete(ctx context.Context, key, code string) (bool, error)
}

// MemoryStore is a process-local Store. Challenges issued by one process
// cannot be verified by another.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]models.OTPChallenge
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]models.OTPChallenge), now: time.Now}
}

func (s *MemoryStore) Put(ctx context.Context, c models.OTPChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep()
	s.entries[c.Key] = c
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (models.OTPChallenge, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.entries[key]
	if ok && s.stale(c) {
		delete(s.entries, key)
		return models.OTPChallenge{}, false, nil
	}
	return c, ok, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) CompareAndDelete(ctx context.Context, key, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.entries[key]
	if !ok || c.Code != code {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// Len reports the number of retained challenges.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) stale(c models.OTPChallenge) bool {
	return s.now().After(c.ExpiresAt.Add(RetainAfterExpiry))
}

// sweep drops challenges past retention. Callers hold mu.
func (s *MemoryStore) sweep() {
	for key, c := range s.entries {
		if s.stale(c) {
			delete(s.entries, key)
		}
	}
}
