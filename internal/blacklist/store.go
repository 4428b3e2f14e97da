package blacklist

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Store persists both blacklists. Find* return the entries whose key is in keys,
// in no particular order.
type Store interface {
	PutCommunity(ctx context.Context, communityID string, e Entry) error
	DeleteCommunity(ctx context.Context, communityID, nameKey string) error
	ListCommunity(ctx context.Context, communityID string) ([]Entry, error)
	FindCommunity(ctx context.Context, communityID string, keys []string) ([]Entry, error)

	PutNetwork(ctx context.Context, e Entry) error
	DeleteNetwork(ctx context.Context, nameKey string) error
	ListNetwork(ctx context.Context) ([]Entry, error)
	FindNetwork(ctx context.Context, keys []string) ([]Entry, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu        sync.RWMutex
	community map[string]map[string]Entry
	network   map[string]Entry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		community: map[string]map[string]Entry{},
		network:   map[string]Entry{},
	}
}

func (s *MemoryStore) PutCommunity(_ context.Context, communityID string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.community[communityID]
	if !ok {
		list = map[string]Entry{}
		s.community[communityID] = list
	}
	list[e.NameKey] = e
	return nil
}

func (s *MemoryStore) DeleteCommunity(_ context.Context, communityID, nameKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.community[communityID][nameKey]; !ok {
		return ErrEntryNotFound
	}
	delete(s.community[communityID], nameKey)
	return nil
}

func (s *MemoryStore) ListCommunity(_ context.Context, communityID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedEntries(s.community[communityID]), nil
}

func (s *MemoryStore) FindCommunity(_ context.Context, communityID string, keys []string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pick(s.community[communityID], keys), nil
}

func (s *MemoryStore) PutNetwork(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.network[e.NameKey] = e
	return nil
}

func (s *MemoryStore) DeleteNetwork(_ context.Context, nameKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.network[nameKey]; !ok {
		return ErrEntryNotFound
	}
	delete(s.network, nameKey)
	return nil
}

func (s *MemoryStore) ListNetwork(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedEntries(s.network), nil
}

func (s *MemoryStore) FindNetwork(_ context.Context, keys []string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pick(s.network, keys), nil
}

func pick(list map[string]Entry, keys []string) []Entry {
	var out []Entry
	for _, k := range keys {
		if e, ok := list[k]; ok {
			out = append(out, e)
		}
	}
	return out
}

func sortedEntries(list map[string]Entry) []Entry {
	out := make([]Entry, 0, len(list))
	for _, e := range list {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.NameKey, b.NameKey) })
	return out
}
