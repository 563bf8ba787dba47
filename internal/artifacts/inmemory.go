package artifacts

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

const defaultMemoryCapacity = 64

// InMemoryStore keeps the most recent artifacts in process memory and evicts
// the oldest once capacity is reached.
type InMemoryStore struct {
	mu       sync.RWMutex
	capacity int
	items    map[string]Artifact
	order    []string
}

func NewInMemoryStore(capacity int) *InMemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &InMemoryStore{
		capacity: capacity,
		items:    make(map[string]Artifact),
	}
}

func (s *InMemoryStore) Save(_ context.Context, a Artifact) error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("artifact id is required")
	}
	a = normalize(a)
	a.WAV = append([]byte(nil), a.WAV...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[a.ID]; !exists {
		s.order = append(s.order, a.ID)
	}
	s.items[a.ID] = a
	for len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.items, oldest)
	}
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.items[id]
	if !ok {
		return Artifact{}, ErrNotFound
	}
	a.WAV = append([]byte(nil), a.WAV...)
	return a, nil
}

func (s *InMemoryStore) ListBySession(_ context.Context, sessionID string, limit int) ([]Artifact, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Artifact, 0, limit)
	for _, a := range s.items {
		if a.SessionID == sessionID {
			out = append(out, a.Meta())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *InMemoryStore) Close() error { return nil }
