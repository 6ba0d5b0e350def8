package buffer

import (
	"context"
	"sync"
	"time"
)

// FragmentStore holds the pending fragments of unfinished turns, keyed
// by (tenant, conversation). It is transient by contract: losing an
// undrained buffer on crash degrades to at-most-once delivery of that
// turn but never corrupts conversation state, because nothing permanent
// was written yet.
type FragmentStore interface {
	// Append adds a fragment to the end of the key's pending list.
	Append(ctx context.Context, key, fragment string) error
	// Drain returns the key's fragments in submission order and clears
	// the list. Callers serialize Drain against Append per key.
	Drain(ctx context.Context, key string) ([]string, error)
	Close() error
}

// MemoryFragmentStore keeps pending fragments in process memory.
type MemoryFragmentStore struct {
	mu        sync.Mutex
	fragments map[string][]string
}

func NewMemoryFragmentStore() *MemoryFragmentStore {
	return &MemoryFragmentStore{fragments: make(map[string][]string)}
}

func (s *MemoryFragmentStore) Append(ctx context.Context, key, fragment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragments[key] = append(s.fragments[key], fragment)
	return nil
}

func (s *MemoryFragmentStore) Drain(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fragments := s.fragments[key]
	delete(s.fragments, key)
	return fragments, nil
}

func (s *MemoryFragmentStore) Close() error {
	return nil
}

// DefaultFragmentTTL caps how long unflushed fragments live in an
// external store before expiring on their own.
const DefaultFragmentTTL = 5 * time.Minute
