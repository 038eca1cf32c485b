package store

import (
	"context"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	fsm "github.com/goliatone/go-fsm"
)

var (
	// ErrVersionConflict indicates an optimistic-lock compare-and-set failure.
	// It is fsm.ErrConflict so machines report concurrent_modification.
	ErrVersionConflict = fsm.ErrConflict

	// ErrNotFound is returned by LoadEntity when no row exists.
	ErrNotFound = goerrors.New("state record not found", goerrors.CategoryNotFound).
			WithTextCode("STATE_RECORD_NOT_FOUND")

	errRecordRequired = errors.New("state record required")
	errIDRequired     = errors.New("state record id required")
	errStateRequired  = errors.New("state record state required")
)

// StateRecord is the persisted state row for a record.
type StateRecord struct {
	Kind      string         `json:"kind"`
	ID        string         `json:"id"`
	State     string         `json:"state"`
	Version   int            `json:"version"`
	Machine   string         `json:"machine,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// StateStore persists state records with optimistic locking.
type StateStore interface {
	// Load returns nil, nil when the record does not exist.
	Load(ctx context.Context, kind, id string) (*StateRecord, error)
	// SaveIfVersion writes rec when the stored version equals expectedVersion
	// (0 for a new record) and returns the new version.
	SaveIfVersion(ctx context.Context, rec *StateRecord, expectedVersion int) (newVersion int, err error)
	// List returns records of kind, optionally filtered by state.
	List(ctx context.Context, kind, state string) ([]*StateRecord, error)
}

func normalize(rec *StateRecord) (*StateRecord, error) {
	rec = cloneStateRecord(rec)
	if rec == nil {
		return nil, errRecordRequired
	}
	rec.Kind = normalizeName(rec.Kind)
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.ID == "" {
		return nil, errIDRequired
	}
	rec.State = normalizeName(rec.State)
	if rec.State == "" {
		return nil, errStateRequired
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	return rec, nil
}

func cloneStateRecord(rec *StateRecord) *StateRecord {
	if rec == nil {
		return nil
	}
	cp := *rec
	if rec.Metadata != nil {
		cp.Metadata = make(map[string]any, len(rec.Metadata))
		for k, v := range rec.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func recordKey(kind, id string) string {
	return normalizeName(kind) + ":" + strings.TrimSpace(id)
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
