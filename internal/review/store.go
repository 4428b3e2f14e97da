package review

import (
	"context"
	"slices"
	"sync"

	"github.com/guildgate/guildgate/internal/channel"
)

// Store persists pending requests. Delete reports ErrRequestNotFound when the
// request is already gone, which makes it the claim step of a resolution.
type Store interface {
	Insert(ctx context.Context, r Request) error
	Get(ctx context.Context, id string) (Request, error)
	GetByMember(ctx context.Context, communityID, sectionID, userID string) (Request, error)
	GetByPrompt(ctx context.Context, ref channel.MessageRef) (Request, error)
	SetPrompt(ctx context.Context, id string, ref channel.MessageRef) error
	Delete(ctx context.Context, id string) error
	ListByMember(ctx context.Context, communityID, userID string) ([]Request, error)
	List(ctx context.Context, communityID string) ([]Request, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]Request
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: map[string]Request{}}
}

func (s *MemoryStore) Insert(_ context.Context, r Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.requests {
		if sameMember(existing, r.CommunityID, r.SectionID, r.UserID) {
			return ErrAlreadyPending
		}
	}
	s.requests[r.ID] = r.clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	return r.clone(), nil
}

func (s *MemoryStore) GetByMember(_ context.Context, communityID, sectionID, userID string) (Request, error) {
	return s.find(func(r Request) bool { return sameMember(r, communityID, sectionID, userID) })
}

func (s *MemoryStore) GetByPrompt(_ context.Context, ref channel.MessageRef) (Request, error) {
	if ref.IsZero() {
		return Request{}, ErrRequestNotFound
	}
	return s.find(func(r Request) bool { return r.Prompt == ref })
}

func (s *MemoryStore) find(match func(Request) bool) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.requests {
		if match(r) {
			return r.clone(), nil
		}
	}
	return Request{}, ErrRequestNotFound
}

func (s *MemoryStore) SetPrompt(_ context.Context, id string, ref channel.MessageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return ErrRequestNotFound
	}
	r.Prompt = ref
	s.requests[id] = r
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[id]; !ok {
		return ErrRequestNotFound
	}
	delete(s.requests, id)
	return nil
}

func (s *MemoryStore) ListByMember(_ context.Context, communityID, userID string) ([]Request, error) {
	return s.list(func(r Request) bool { return r.CommunityID == communityID && r.UserID == userID }), nil
}

// List returns the pending requests of communityID, or of every community when it is empty.
func (s *MemoryStore) List(_ context.Context, communityID string) ([]Request, error) {
	return s.list(func(r Request) bool { return communityID == "" || r.CommunityID == communityID }), nil
}

func (s *MemoryStore) list(match func(Request) bool) []Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Request
	for _, r := range s.requests {
		if match(r) {
			out = append(out, r.clone())
		}
	}
	slices.SortFunc(out, func(a, b Request) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}
