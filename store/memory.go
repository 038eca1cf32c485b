package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// InMemoryStateStore is a thread-safe in-memory state store.
type InMemoryStateStore struct {
	mu    sync.RWMutex
	state map[string]*StateRecord
}

// NewInMemoryStateStore constructs an empty store.
func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{
		state: make(map[string]*StateRecord),
	}
}

// Load returns a cloned state record.
func (s *InMemoryStateStore) Load(_ context.Context, kind, id string) (*StateRecord, error) {
	if s == nil {
		return nil, errors.New("in-memory store not configured")
	}
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.state[recordKey(kind, id)]
	if !ok {
		return nil, nil
	}
	return cloneStateRecord(rec), nil
}

// SaveIfVersion performs compare-and-set persistence.
func (s *InMemoryStateStore) SaveIfVersion(_ context.Context, rec *StateRecord, expectedVersion int) (int, error) {
	if s == nil {
		return 0, errors.New("in-memory store not configured")
	}
	rec, err := normalize(rec)
	if err != nil {
		return 0, err
	}
	if expectedVersion < 0 {
		expectedVersion = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		s.state = make(map[string]*StateRecord)
	}
	key := recordKey(rec.Kind, rec.ID)
	current, ok := s.state[key]
	switch {
	case !ok && expectedVersion != 0:
		return 0, ErrVersionConflict
	case ok && current.Version != expectedVersion:
		return 0, ErrVersionConflict
	}
	rec.Version = expectedVersion + 1
	s.state[key] = rec
	return rec.Version, nil
}

// List returns records of kind sorted by id.
func (s *InMemoryStateStore) List(_ context.Context, kind, state string) ([]*StateRecord, error) {
	if s == nil {
		return nil, errors.New("in-memory store not configured")
	}
	kind, state = normalizeName(kind), normalizeName(state)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*StateRecord
	for _, rec := range s.state {
		if rec.Kind != kind || (state != "" && rec.State != state) {
			continue
		}
		out = append(out, cloneStateRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
