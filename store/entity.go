package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	fsm "github.com/goliatone/go-fsm"
)

// Entity is an fsm.Record whose state is persisted through a StateStore
// with optimistic locking. Domain types embed it.
type Entity struct {
	mu       sync.RWMutex
	store    StateStore
	kind     string
	id       string
	state    string
	version  int
	machine  string
	metadata map[string]any
	snapshot func() map[string]any
}

var _ fsm.Record = (*Entity)(nil)

// NewEntity returns an unsaved entity in state.
func NewEntity(st StateStore, kind, id, state string) *Entity {
	return &Entity{
		store: st,
		kind:  normalizeName(kind),
		id:    strings.TrimSpace(id),
		state: normalizeName(state),
	}
}

// LoadEntity reads an entity. It returns ErrNotFound when missing.
func LoadEntity(ctx context.Context, st StateStore, kind, id string) (*Entity, error) {
	rec, err := st.Load(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fsm.NewError(ErrNotFound, fmt.Sprintf("%s %s not found", kind, id), nil, map[string]any{
			"kind": kind,
			"id":   id,
		})
	}
	return FromStateRecord(st, rec), nil
}

// FromStateRecord wraps a loaded row.
func FromStateRecord(st StateStore, rec *StateRecord) *Entity {
	return &Entity{
		store:    st,
		kind:     rec.Kind,
		id:       rec.ID,
		state:    rec.State,
		version:  rec.Version,
		machine:  rec.Machine,
		metadata: cloneStateRecord(rec).Metadata,
	}
}

func (e *Entity) RecordID() string   { return e.id }
func (e *Entity) RecordKind() string { return e.kind }

func (e *Entity) State() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Entity) SetState(state string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
}

// Version is the last persisted version, 0 when unsaved.
func (e *Entity) Version() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

// Metadata returns a copy of the persisted attributes.
func (e *Entity) Metadata() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneStateRecord(&StateRecord{Metadata: e.metadata}).Metadata
}

// SetMachine records the owning machine name in the persisted row.
func (e *Entity) SetMachine(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.machine = name
}

// SetSnapshot registers a function whose result is stored as metadata on
// every Persist. Embedding types use it to persist their own attributes.
func (e *Entity) SetSnapshot(fn func() map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot = fn
}

// Persist saves the current state if nobody else wrote since it was loaded.
func (e *Entity) Persist(ctx context.Context) error {
	if e.store == nil {
		return fmt.Errorf("entity %s:%s has no store", e.kind, e.id)
	}
	e.mu.RLock()
	snapshot := e.snapshot
	e.mu.RUnlock()
	var metadata map[string]any
	if snapshot != nil {
		metadata = snapshot()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if metadata == nil {
		metadata = e.metadata
	}
	rec := &StateRecord{
		Kind:     e.kind,
		ID:       e.id,
		State:    e.state,
		Machine:  e.machine,
		Metadata: metadata,
	}
	version, err := e.store.SaveIfVersion(ctx, rec, e.version)
	if err != nil {
		return fmt.Errorf("persist %s:%s at version %d: %w", e.kind, e.id, e.version, err)
	}
	e.version = version
	e.metadata = metadata
	return nil
}

// Reload refreshes state and version from the store.
func (e *Entity) Reload(ctx context.Context) error {
	rec, err := e.store.Load(ctx, e.kind, e.id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fsm.NewError(ErrNotFound, fmt.Sprintf("%s %s not found", e.kind, e.id), nil, nil)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = rec.State
	e.version = rec.Version
	e.machine = rec.Machine
	e.metadata = rec.Metadata
	return nil
}
