// Package memory implements an in-memory, thread-safe session store. It
// offers no cross-invocation durability and exists for tests and embedded
// single-invocation use.
package memory

import (
	"context"
	"sync"

	"github.com/project-nyra/devsession/internal/proc"
	"github.com/project-nyra/devsession/model/session"
	"github.com/project-nyra/devsession/service/dao"
	sessiondao "github.com/project-nyra/devsession/service/dao/session"
)

// Service keeps the session table in process memory.
type Service struct {
	sessions session.Table
	current  string
	alive    func(pid int) bool
	mux      sync.RWMutex
}

var _ sessiondao.Store = (*Service)(nil)

// Option customises the store.
type Option func(s *Service)

// WithAliveProbe overrides the liveness probe used for stale reaping.
func WithAliveProbe(alive func(pid int) bool) Option {
	return func(s *Service) { s.alive = alive }
}

// New creates an empty in-memory store.
func New(options ...Option) *Service {
	s := &Service{sessions: session.Table{}, alive: proc.Alive}
	for _, option := range options {
		option(s)
	}
	return s
}

// Load returns a copy of the table, reaping entries whose recorded
// process is gone, same as the filesystem store.
func (s *Service) Load(_ context.Context) (session.Table, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	out := session.Table{}
	for id, sess := range s.sessions {
		if sess == nil || !s.alive(sess.PID) {
			delete(s.sessions, id)
			continue
		}
		out[id] = sess
	}
	return out, nil
}

func (s *Service) Save(_ context.Context, table session.Table) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.sessions = session.Table{}
	for id, sess := range table {
		s.sessions[id] = sess
	}
	return nil
}

func (s *Service) Upsert(_ context.Context, sess *session.Session) error {
	if sess == nil {
		return dao.ErrNilEntity
	}
	if sess.ID == "" {
		return dao.ErrInvalidID
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *Service) Remove(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, dao.ErrInvalidID
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false, nil
	}
	delete(s.sessions, id)
	return true, nil
}

func (s *Service) Current(_ context.Context) (string, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.current, nil
}

func (s *Service) SetCurrent(_ context.Context, id string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.current = id
	return nil
}
