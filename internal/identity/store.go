package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Store persists identity records. Update and Delete are compare-and-swap on
// Record.Version; both Insert and Update reject name keys held by another record.
type Store interface {
	GetByID(ctx context.Context, id string) (Record, error)
	GetByOwner(ctx context.Context, ownerID string) (Record, error)
	GetByNameKey(ctx context.Context, key string) (Record, error)
	Insert(ctx context.Context, rec Record) (Record, error)
	Update(ctx context.Context, rec Record) (Record, error)
	Delete(ctx context.Context, id string, version int64) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) GetByOwner(_ context.Context, ownerID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ownerID == "" {
		return Record{}, ErrRecordNotFound
	}
	for _, rec := range s.records {
		if rec.OwnerID == ownerID {
			return rec.Clone(), nil
		}
	}
	return Record{}, ErrRecordNotFound
}

func (s *MemoryStore) GetByNameKey(_ context.Context, key string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if key == "" {
		return Record{}, ErrRecordNotFound
	}
	for _, rec := range s.records {
		if rec.HasKey(key) {
			return rec.Clone(), nil
		}
	}
	return Record{}, ErrRecordNotFound
}

func (s *MemoryStore) Insert(_ context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := s.checkUniqueLocked(rec); err != nil {
		return Record{}, err
	}
	rec.Version = 1
	s.records[rec.ID] = rec.Clone()
	return rec, nil
}

func (s *MemoryStore) Update(_ context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[rec.ID]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	if current.Version != rec.Version {
		return Record{}, ErrVersionConflict
	}
	if err := s.checkUniqueLocked(rec); err != nil {
		return Record{}, err
	}
	rec.Version++
	s.records[rec.ID] = rec.Clone()
	return rec, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	if current.Version != version {
		return ErrVersionConflict
	}
	delete(s.records, id)
	return nil
}

// All returns a snapshot of every record. Used by tests and diagnostics.
func (s *MemoryStore) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out
}

func (s *MemoryStore) checkUniqueLocked(rec Record) error {
	keys := map[string]struct{}{}
	for _, key := range rec.Keys() {
		if _, dup := keys[key]; dup {
			return ErrNameTaken
		}
		keys[key] = struct{}{}
	}
	for id, other := range s.records {
		if id == rec.ID {
			continue
		}
		if rec.OwnerID != "" && other.OwnerID == rec.OwnerID {
			return ErrOwnerTaken
		}
		for _, key := range other.Keys() {
			if _, clash := keys[key]; clash {
				return ErrNameTaken
			}
		}
	}
	return nil
}
