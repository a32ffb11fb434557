package controller

import (
	"os/exec"
	"sync"
	"sync/atomic"
)

// Handle is a controllable process. A live handle wraps the exec.Cmd of
// the invocation that spawned the process and supports waiting for exit;
// a detached handle wraps a bare recorded pid and supports signalling
// only. A live handle never crosses an invocation boundary.
type Handle struct {
	pid int
	cmd *exec.Cmd

	// done is closed once Wait returns; live handles only.
	done chan struct{}

	exitOnce sync.Once
	exitCode atomic.Pointer[int]

	// stopping suppresses unprompted-exit routing while an explicit
	// termination is in flight.
	stopping atomic.Bool

	// readers tracks the pipe capture goroutines; live handles only.
	readers sync.WaitGroup
}

// Live creates a handle for a process this invocation spawned.
func Live(cmd *exec.Cmd) *Handle {
	return &Handle{
		pid:  cmd.Process.Pid,
		cmd:  cmd,
		done: make(chan struct{}),
	}
}

// Detached creates a signal-only handle from a recorded pid, for sessions
// reconstructed from the durable store.
func Detached(pid int) *Handle {
	return &Handle{pid: pid}
}

// PID returns the operating system process id.
func (h *Handle) PID() int { return h.pid }

// IsLive reports whether the handle can observe process exit.
func (h *Handle) IsLive() bool { return h != nil && h.cmd != nil }

// Done returns a channel closed when the process has exited. It is nil
// for detached handles.
func (h *Handle) Done() <-chan struct{} {
	if h == nil {
		return nil
	}
	return h.done
}

// ExitCode returns the recorded exit code, nil while the process runs or
// when the process was ended by a signal.
func (h *Handle) ExitCode() *int {
	if h == nil {
		return nil
	}
	return h.exitCode.Load()
}

// markExited records the wait outcome exactly once. A negative code means
// the process was ended by a signal and maps to an absent exit code.
func (h *Handle) markExited(code int) {
	h.exitOnce.Do(func() {
		if code >= 0 {
			h.exitCode.Store(&code)
		}
		close(h.done)
	})
}

// beginStop flags an explicit termination; it reports false when a stop
// was already in flight.
func (h *Handle) beginStop() bool {
	return h.stopping.CompareAndSwap(false, true)
}

// stopRequested reports whether an explicit termination is in flight.
func (h *Handle) stopRequested() bool {
	return h.stopping.Load()
}
