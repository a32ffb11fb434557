package flock

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")
	ctx := context.Background()

	lock, err := Acquire(ctx, path)
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)

	assert.NoError(t, lock.Release())
	_, statErr = os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	// Releasing twice is a no-op.
	assert.NoError(t, lock.Release())
}

func TestAcquireBlocksUntilReleased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")
	ctx := context.Background()

	first, err := Acquire(ctx, path)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := Acquire(ctx, path)
		assert.NoError(t, err)
		_ = second.Release()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while the lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Release())
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire did not proceed after release")
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")
	first, err := Acquire(context.Background(), path)
	require.NoError(t, err)
	defer first.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = Acquire(ctx, path)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStaleLockTakeover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")
	require.NoError(t, os.WriteFile(path, []byte("1\n"), 0o644))
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(path, old, old))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	lock, err := Acquire(ctx, path)
	require.NoError(t, err)
	assert.NoError(t, lock.Release())
}
