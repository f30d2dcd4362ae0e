package audit

import (
	"context"
	"sort"
	"sync"
)

type MemoryStore struct {
	identity IdentityFunc

	mu      sync.RWMutex
	nextID  int64
	entries []Entry
}

func NewMemoryStore(identity IdentityFunc) *MemoryStore {
	return &MemoryStore{identity: identity}
}

func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	s.entries = append(s.entries, e)
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, f Filter) ([]Record, error) {
	s.mu.RLock()
	entries := append([]Entry(nil), s.entries...)
	s.mu.RUnlock()

	return selectRecords(ctx, s.identity, entries, f), nil
}

func selectRecords(ctx context.Context, lookup IdentityFunc, entries []Entry, f Filter) []Record {
	out := make([]Record, 0)
	for _, e := range entries {
		rec := join(ctx, lookup, e)
		if f.matches(rec) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > f.limit() {
		out = out[:f.limit()]
	}
	return out
}
