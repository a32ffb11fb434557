// Package proc provides the non-destructive process liveness probe used
// for stale-session reaping and post-grace escalation checks.
package proc

import (
	"errors"
	"syscall"
)

// AliveFunc reports whether pid names a live process. Override in tests
// for determinism.
var AliveFunc = alive

// Alive is a thin wrapper around AliveFunc.
func Alive(pid int) bool { return AliveFunc(pid) }

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 performs permission and existence checks without delivering
	// anything. EPERM still means the process exists.
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
