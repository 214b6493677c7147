package storage

import (
	"context"
	"sync"

	"github.com/m3rciful/storylens/internal/domain/entity"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	codec codec
	mu    sync.RWMutex
	recs  map[string]Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{codec: newCodec(opts), recs: make(map[string]Record)}
}

func (s *MemoryStore) Load(ctx context.Context, id string) (*entity.UserState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.recs[id]; ok {
		return s.codec.decode(ctx, rec), nil
	}
	st := s.codec.fresh(id, "")
	rec, err := s.codec.encode(ctx, st)
	if err != nil {
		return nil, err
	}
	s.recs[id] = rec
	st.UpdatedAt = rec.UpdatedAt
	return st, nil
}

func (s *MemoryStore) Save(ctx context.Context, st *entity.UserState) error {
	rec, err := s.codec.encode(ctx, st)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.recs[rec.UserID] = rec
	s.mu.Unlock()
	st.UpdatedAt = rec.UpdatedAt
	return nil
}

func (s *MemoryStore) Reset(ctx context.Context, id string) (*entity.UserState, error) {
	return resetWith(ctx, s, id)
}

func (s *MemoryStore) Close() error { return nil }

// Len reports how many users are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.recs)
}
