package store

import (
	"context"
	"testing"

	fsm "github.com/goliatone/go-fsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityPersistAndReload(t *testing.T) {
	st := NewInMemoryStateStore()
	ctx := context.Background()

	e := NewEntity(st, "Mandate", "m-1", "pending")
	e.SetMachine("mandate")
	premium := 1200
	e.SetSnapshot(func() map[string]any { return map[string]any{"premium": premium} })

	require.NoError(t, e.Persist(ctx))
	assert.Equal(t, 1, e.Version())
	assert.Equal(t, "mandate", e.RecordKind())
	assert.Equal(t, "mandate", fsm.KindOf(e))

	e.SetState("accepted")
	premium = 1500
	require.NoError(t, e.Persist(ctx))

	loaded, err := LoadEntity(ctx, st, "mandate", "m-1")
	require.NoError(t, err)
	assert.Equal(t, "accepted", loaded.State())
	assert.Equal(t, 2, loaded.Version())
	assert.Equal(t, 1500, loaded.Metadata()["premium"])
}

func TestEntityDetectsConcurrentWrites(t *testing.T) {
	st := NewInMemoryStateStore()
	ctx := context.Background()
	require.NoError(t, NewEntity(st, "offer", "o-1", "pending").Persist(ctx))

	a, err := LoadEntity(ctx, st, "offer", "o-1")
	require.NoError(t, err)
	b, err := LoadEntity(ctx, st, "offer", "o-1")
	require.NoError(t, err)

	a.SetState("accepted")
	require.NoError(t, a.Persist(ctx))

	b.SetState("rejected")
	err = b.Persist(ctx)
	require.Error(t, err)
	assert.True(t, fsm.IsConflict(err))

	require.NoError(t, b.Reload(ctx))
	assert.Equal(t, "accepted", b.State())
	assert.Equal(t, 2, b.Version())
}

func TestLoadEntityNotFound(t *testing.T) {
	_, err := LoadEntity(context.Background(), NewInMemoryStateStore(), "offer", "nope")
	require.Error(t, err)
	assert.Equal(t, "STATE_RECORD_NOT_FOUND", fsm.Code(err))
}

func TestEntityWithoutStore(t *testing.T) {
	e := NewEntity(nil, "offer", "o-1", "pending")
	assert.Error(t, e.Persist(context.Background()))
}
