package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
	byID    map[string]int
	opts    options
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]int),
		opts: buildOptions(opts),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, payload Payload) (*Record, error) {
	defer s.opts.lockHead()()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.rejectDuplicates && containsPayload(s.records, payload) {
		return nil, ErrDuplicatePayload
	}

	var prev *Record
	if n := len(s.records); n > 0 {
		prev = s.records[n-1]
	}

	r, err := newRecord(uuid.NewString(), prev, payload, time.Now())
	if err != nil {
		return nil, err
	}

	s.byID[r.ID] = len(s.records)
	s.records = append(s.records, r)

	if err := s.opts.afterAppend(ctx, r); err != nil {
		return nil, fmt.Errorf("seal head: %w", err)
	}
	return clone(r), nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.records), nil
}

// Since implements Store.
func (s *MemoryStore) Since(_ context.Context, after int64) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := int(after + 1)
	if start < 0 {
		start = 0
	}
	if start >= len(s.records) {
		return nil, nil
	}
	return cloneAll(s.records[start:]), nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", id, ErrNotFound)
	}
	return clone(s.records[i]), nil
}

// ByAttribute implements Store.
func (s *MemoryStore) ByAttribute(_ context.Context, attr Attribute, value string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, r := range s.records {
		if v, ok := r.Payload.Attr(string(attr)); ok && v == value {
			out = append(out, clone(r))
		}
	}
	return out, nil
}

// Latest implements Store.
func (s *MemoryStore) Latest(_ context.Context) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return nil, fmt.Errorf("latest: %w", ErrNotFound)
	}
	return clone(s.records[len(s.records)-1]), nil
}

// Len implements Store.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func clone(r *Record) *Record {
	c := *r
	return &c
}

func cloneAll(rs []*Record) []*Record {
	out := make([]*Record, len(rs))
	for i, r := range rs {
		out[i] = clone(r)
	}
	return out
}
