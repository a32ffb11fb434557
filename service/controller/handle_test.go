package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetachedHandle(t *testing.T) {
	handle := Detached(4321)
	assert.Equal(t, 4321, handle.PID())
	assert.False(t, handle.IsLive())
	assert.Nil(t, handle.Done())
	assert.Nil(t, handle.ExitCode())
}

func TestHandle_MarkExited(t *testing.T) {
	handle := &Handle{pid: 1, done: make(chan struct{})}

	handle.markExited(3)
	select {
	case <-handle.Done():
	default:
		t.Fatal("done channel should be closed after exit")
	}
	code := handle.ExitCode()
	if assert.NotNil(t, code) {
		assert.Equal(t, 3, *code)
	}

	// A second report must not overwrite the first.
	handle.markExited(9)
	assert.Equal(t, 3, *handle.ExitCode())
}

func TestHandle_SignalExitHasNoCode(t *testing.T) {
	handle := &Handle{pid: 1, done: make(chan struct{})}
	handle.markExited(-1)
	assert.Nil(t, handle.ExitCode())
}

func TestHandle_BeginStop(t *testing.T) {
	handle := &Handle{pid: 1, done: make(chan struct{})}
	assert.False(t, handle.stopRequested())
	assert.True(t, handle.beginStop())
	assert.False(t, handle.beginStop())
	assert.True(t, handle.stopRequested())
}

func TestNilHandleAccessors(t *testing.T) {
	var handle *Handle
	assert.False(t, handle.IsLive())
	assert.Nil(t, handle.Done())
	assert.Nil(t, handle.ExitCode())
}
