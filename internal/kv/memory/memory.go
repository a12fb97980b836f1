package memory

import (
	"context"
	"fmt"
	"sync"

	"donations/internal/kv"
)

var _ kv.Storage = (*Store)(nil)

// Store keeps slots in process memory. A positive quota caps the total size of
// all values, which is how browser storage behaves when it fills up.
type Store struct {
	mu         sync.Mutex
	items      map[string]string
	quotaBytes int
}

func New(quotaBytes int) *Store {
	return &Store{items: map[string]string{}, quotaBytes: quotaBytes}
}

// NewSeeded returns a store pre-filled with the given slots.
func NewSeeded(seed map[string]string) *Store {
	s := New(0)
	for k, v := range seed {
		s.items[k] = v
	}
	return s
}

// Get returns the stored value or kv.ErrNotFound.
func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if !ok {
		return "", kv.ErrNotFound
	}
	return v, nil
}

// Set replaces the slot value, failing with kv.ErrQuotaExceeded when the quota
// would be crossed.
func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quotaBytes > 0 {
		used := 0
		for k, v := range s.items {
			if k != key {
				used += len(k) + len(v)
			}
		}
		if used+len(key)+len(value) > s.quotaBytes {
			return fmt.Errorf("set %q (%d bytes): %w", key, len(value), kv.ErrQuotaExceeded)
		}
	}
	s.items[key] = value
	return nil
}

// Delete removes a slot; missing slots are ignored.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}
