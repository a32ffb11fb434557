package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-nyra/devsession/model/session"
	"github.com/project-nyra/devsession/service/dao"
)

func newTestStore(alive func(pid int) bool) *Service {
	if alive == nil {
		alive = func(int) bool { return true }
	}
	return New(WithAliveProbe(alive))
}

func TestService_Lifecycle(t *testing.T) {
	store := newTestStore(nil)
	ctx := context.Background()

	assert.ErrorIs(t, store.Upsert(ctx, nil), dao.ErrNilEntity)
	assert.ErrorIs(t, store.Upsert(ctx, &session.Session{}), dao.ErrInvalidID)

	sess := session.New("s1", "/usr/bin/editor", "", time.Now())
	require.NoError(t, store.Upsert(ctx, sess))

	table, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, table, "s1")

	// The loaded table is a copy; mutating it must not affect the store.
	delete(table, "s1")
	table, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, table, "s1")

	require.NoError(t, store.SetCurrent(ctx, "s1"))
	current, err := store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s1", current)

	removed, err := store.Remove(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = store.Remove(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestService_Save(t *testing.T) {
	store := newTestStore(nil)
	ctx := context.Background()

	table := session.Table{
		"a": session.New("a", "/bin/a", "", time.Now()),
		"b": session.New("b", "/bin/b", "", time.Now()),
	}
	require.NoError(t, store.Save(ctx, table))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

func TestService_StaleReaping(t *testing.T) {
	dead := map[int]bool{200: true}
	store := newTestStore(func(pid int) bool { return !dead[pid] })
	ctx := context.Background()

	alive := session.New("alive", "/bin/a", "", time.Now())
	alive.PID = 100
	stale := session.New("stale", "/bin/b", "", time.Now())
	stale.PID = 200
	require.NoError(t, store.Upsert(ctx, alive))
	require.NoError(t, store.Upsert(ctx, stale))

	table, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, table, 1)
	assert.Contains(t, table, "alive")

	// Reaped for good, not just filtered from this view.
	table, err = store.Load(ctx)
	require.NoError(t, err)
	assert.NotContains(t, table, "stale")
}
