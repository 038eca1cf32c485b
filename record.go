package fsm

import (
	"context"
	"reflect"
)

// Record is the capability a host entity exposes to be driven by a machine.
type Record interface {
	// RecordID returns a stable identity for the record.
	RecordID() string
	// State returns the currently persisted state name.
	State() string
	// SetState mutates the in-memory state. It must not persist.
	SetState(state string)
	// Persist writes the record. Implementations signal optimistic
	// concurrency conflicts by returning an error wrapping ErrConflict.
	Persist(ctx context.Context) error
}

// Kinded is implemented by records that belong to a class of entities
// (mandate, offer, ...). Event bus class and instance subscriptions use it.
type Kinded interface {
	RecordKind() string
}

// KindOf returns the record kind, falling back to the snake cased type name.
func KindOf(rec any) string {
	if k, ok := rec.(Kinded); ok {
		return k.RecordKind()
	}
	if IsNilRecord(rec) {
		return "unknown_type"
	}
	t := reflect.TypeOf(rec)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return toSnakeCase(t.Name())
}

// IsNilRecord reports whether rec is nil or a typed nil pointer.
func IsNilRecord(rec any) bool {
	if rec == nil {
		return true
	}
	v := reflect.ValueOf(rec)
	if v.Kind() != reflect.Ptr {
		return false
	}
	return v.IsNil()
}
