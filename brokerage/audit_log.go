package brokerage

import (
	"context"
	"sync"
	"time"

	fsm "github.com/goliatone/go-fsm"
	"github.com/goliatone/go-fsm/machine"
	"github.com/google/uuid"
)

// AuditEntry is one line of the compliance trail.
type AuditEntry struct {
	ID         string
	Phase      machine.AuditPhase
	Machine    string
	RecordKind string
	RecordID   string
	AttemptID  string
	Event      string
	From       string
	To         string
	Outcome    fsm.Outcome
	ErrorCode  string
	OccurredAt time.Time
}

// AuditLog keeps every transition attempt in memory. It is a machine audit
// hook.
type AuditLog struct {
	mu      sync.RWMutex
	entries []AuditEntry
	// Phases, when set, limits which lifecycle phases are kept.
	phases map[machine.AuditPhase]bool
}

var _ machine.AuditHook = (*AuditLog)(nil)

// NewAuditLog records the given phases, or all phases when none are given.
func NewAuditLog(phases ...machine.AuditPhase) *AuditLog {
	l := &AuditLog{}
	if len(phases) > 0 {
		l.phases = make(map[machine.AuditPhase]bool, len(phases))
		for _, p := range phases {
			l.phases[p] = true
		}
	}
	return l
}

// Notify appends evt to the trail.
func (l *AuditLog) Notify(_ context.Context, evt machine.AuditEvent) error {
	if l.phases != nil && !l.phases[evt.Phase] {
		return nil
	}
	entry := AuditEntry{
		ID:         uuid.NewString(),
		Phase:      evt.Phase,
		Machine:    evt.Machine,
		RecordKind: evt.RecordKind,
		RecordID:   evt.RecordID,
		AttemptID:  evt.AttemptID,
		Event:      evt.Event,
		From:       evt.From,
		To:         evt.To,
		Outcome:    evt.Outcome,
		ErrorCode:  evt.ErrorCode,
		OccurredAt: evt.OccurredAt,
	}
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	return nil
}

// Entries returns the whole trail in order.
func (l *AuditLog) Entries() []AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]AuditEntry(nil), l.entries...)
}

// For returns the trail of one record.
func (l *AuditLog) For(rec Auditable) []AuditEntry {
	kind, id := rec.RecordKind(), rec.RecordID()
	var out []AuditEntry
	for _, e := range l.Entries() {
		if e.RecordKind == kind && e.RecordID == id {
			out = append(out, e)
		}
	}
	return out
}

// Committed returns the committed transitions of rec.
func (l *AuditLog) Committed(rec Auditable) []AuditEntry {
	var out []AuditEntry
	for _, e := range l.For(rec) {
		if e.Phase == machine.AuditPhaseCommitted {
			out = append(out, e)
		}
	}
	return out
}
