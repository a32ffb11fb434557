package session

import (
	"sync"
	"time"
)

// Session describes one tracked run of an externally spawned, long-lived
// process. The durable session table maps ID to Session; any invocation's
// in-memory copy is a cache reconciled against that table before mutation.
type Session struct {
	ID            string    `json:"id"`
	ResourcePath  string    `json:"resourcePath"`
	WorkDirectory string    `json:"workDirectory,omitempty"`
	StartedAt     time.Time `json:"startedAt"`

	// PID is zero when the spawn never produced a process.
	PID int `json:"pid,omitempty"`

	// OutputLines and ErrorLines are append-only capture, written by the
	// process controller while the process is alive.
	OutputLines []string `json:"outputLines,omitempty"`
	ErrorLines  []string `json:"errorLines,omitempty"`

	mux sync.Mutex
}

// New creates a session for the given launch inputs.
func New(id, resourcePath, workDirectory string, startedAt time.Time) *Session {
	return &Session{
		ID:            id,
		ResourcePath:  resourcePath,
		WorkDirectory: workDirectory,
		StartedAt:     startedAt,
	}
}

// AppendOutput records one captured stdout line.
func (s *Session) AppendOutput(line string) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.OutputLines = append(s.OutputLines, line)
}

// AppendError records one captured stderr line.
func (s *Session) AppendError(line string) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.ErrorLines = append(s.ErrorLines, line)
}

// Snapshot returns a copy safe to serialise while capture goroutines are
// still appending.
func (s *Session) Snapshot() *Session {
	s.mux.Lock()
	defer s.mux.Unlock()
	clone := &Session{
		ID:            s.ID,
		ResourcePath:  s.ResourcePath,
		WorkDirectory: s.WorkDirectory,
		StartedAt:     s.StartedAt,
		PID:           s.PID,
	}
	clone.OutputLines = append(clone.OutputLines, s.OutputLines...)
	clone.ErrorLines = append(clone.ErrorLines, s.ErrorLines...)
	return clone
}

// Table is the durable session table keyed by session id.
type Table map[string]*Session
