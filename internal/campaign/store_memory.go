package campaign

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory campaign store for tests and early development.
// It enforces account isolation on reads, like the Postgres implementation.
type MemoryStore struct {
	mu        sync.Mutex
	campaigns map[string]Campaign
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{campaigns: map[string]Campaign{}}
}

func (s *MemoryStore) Create(ctx context.Context, c Campaign) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.campaigns[c.ID]; exists {
		return ErrAlreadyExists
	}
	s.campaigns[c.ID] = clone(c)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, accountID, id string) (Campaign, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.AccountID != accountID {
		return Campaign{}, false, nil
	}
	return clone(c), true, nil
}

func (s *MemoryStore) Update(ctx context.Context, c Campaign) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[c.ID]; !ok {
		return ErrNotFound
	}
	s.campaigns[c.ID] = clone(c)
	return nil
}

func (s *MemoryStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]Campaign, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Campaign, 0)
	for _, c := range s.campaigns {
		if c.AccountID == accountID {
			out = append(out, clone(c))
		}
	}
	// Newest first.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(c Campaign) Campaign {
	out := c
	out.Recipients.List = append([]string(nil), c.Recipients.List...)
	return out
}
