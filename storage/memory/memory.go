// Package memory is an in-process CredentialStorage.
package memory

import (
	"context"
	"sync"
	"time"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
)

var _ auth.CredentialStorage = (*Storage)(nil)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Storage keeps values in a map guarded by a mutex. Entries with a ttl expire lazily.
type Storage struct {
	mu    sync.RWMutex
	items map[string]entry
	now   func() time.Time
}

// New returns an empty Storage.
func New() *Storage {
	return &Storage{
		items: map[string]entry{},
		now:   time.Now,
	}
}

// WithClock replaces the clock used for ttl checks.
func (s *Storage) WithClock(clock func() time.Time) *Storage {
	if clock != nil {
		s.now = clock
	}
	return s
}

func (s *Storage) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, auth.ErrNotStored
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
		return nil, auth.ErrNotStored
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *Storage) Store(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.items[key] = e
	s.mu.Unlock()
	return nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Keys returns the stored keys (expired entries included until next Load).
func (s *Storage) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	return keys
}
