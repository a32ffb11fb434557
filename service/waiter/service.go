// Package waiter implements the completion coordinator: an
// invocation-local map of pending waits plus a background poller that
// watches the signal channel for results published by other invocations.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/project-nyra/devsession/model/session"
	sessiondao "github.com/project-nyra/devsession/service/dao/session"
	"github.com/project-nyra/devsession/service/signal"
)

var (
	// ErrUnknownSession is returned when neither the store nor the signal
	// channel knows the session; it usually means the session already
	// completed elsewhere and its result was consumed.
	ErrUnknownSession = errors.New("waiter: unknown session")

	// ErrWaitAbandoned is returned when an awaited session vanished from
	// the store and no signal arrived; surfacing it beats hanging forever.
	ErrWaitAbandoned = errors.New("waiter: session vanished before a result was delivered")
)

// Config represents coordinator configuration.
type Config struct {
	// StartupDelay debounces launch-then-wait races before the first
	// store check.
	StartupDelay time.Duration

	// PollInterval is the signal channel polling cadence.
	PollInterval time.Duration

	// MissedPolls is how many consecutive polls may find the session
	// absent from both store and channel before the wait is abandoned.
	// The remove-session/publish-signal gap of a remote stop spans at
	// most one interval.
	MissedPolls int
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		StartupDelay: 250 * time.Millisecond,
		PollInterval: 250 * time.Millisecond,
		MissedPolls:  3,
	}
}

type outcome struct {
	result *session.Result
	err    error
}

type pendingWait struct {
	ch     chan outcome
	missed int
}

// Service coordinates completion delivery for one invocation.
type Service struct {
	config  Config
	store   sessiondao.Store
	channel signal.Channel
	logger  zerolog.Logger

	mux     sync.Mutex
	pending map[string]*pendingWait

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// Option customises the coordinator.
type Option func(s *Service)

// WithConfig overrides the default configuration.
func WithConfig(config Config) Option {
	return func(s *Service) { s.config = config }
}

// WithLogger sets the structured logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New creates a coordinator over the shared store and signal channel.
func New(store sessiondao.Store, channel signal.Channel, options ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if channel == nil {
		return nil, fmt.Errorf("signal channel is required")
	}
	s := &Service{
		config:     DefaultConfig(),
		store:      store,
		channel:    channel,
		logger:     zerolog.Nop(),
		pending:    map[string]*pendingWait{},
		shutdownCh: make(chan struct{}),
	}
	for _, option := range options {
		option(s)
	}
	return s, nil
}

// Start runs the poll loop until ctx is done or Shutdown is called.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// Shutdown stops the poll loop.
func (s *Service) Shutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

// WaitFor blocks until the session's result is delivered: directly by a
// local stop, or by the poller consuming a signal another invocation
// published. The coordinator imposes no timeout of its own; ctx is the
// caller's to cancel.
func (s *Service) WaitFor(ctx context.Context, sessionID string) (*session.Result, error) {
	select {
	case <-time.After(s.config.StartupDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// A stop may already have run to completion; the signal outlives it.
	result, err := s.channel.TryConsume(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	table, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load session table: %w", err)
	}
	if _, ok := table[sessionID]; !ok {
		// The session may have been finalised between the two checks.
		if result, err = s.channel.TryConsume(ctx, sessionID); err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	wait := &pendingWait{ch: make(chan outcome, 1)}
	s.mux.Lock()
	s.pending[sessionID] = wait
	s.mux.Unlock()
	defer func() {
		s.mux.Lock()
		if s.pending[sessionID] == wait {
			delete(s.pending, sessionID)
		}
		s.mux.Unlock()
	}()

	select {
	case out := <-wait.ch:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve satisfies a local pending wait directly, skipping the channel.
// It reports whether a wait was pending for the session.
func (s *Service) Resolve(sessionID string, result *session.Result) bool {
	return s.deliver(sessionID, outcome{result: result})
}

func (s *Service) deliver(sessionID string, out outcome) bool {
	s.mux.Lock()
	wait, ok := s.pending[sessionID]
	if ok {
		delete(s.pending, sessionID)
	}
	s.mux.Unlock()
	if !ok {
		return false
	}
	wait.ch <- out
	return true
}

// poll checks the signal channel for every awaited session and tracks how
// long each has been absent from the shared state.
func (s *Service) poll(ctx context.Context) {
	s.mux.Lock()
	awaited := make([]string, 0, len(s.pending))
	for id := range s.pending {
		awaited = append(awaited, id)
	}
	s.mux.Unlock()
	if len(awaited) == 0 {
		return
	}

	table, tableErr := s.store.Load(ctx)

	for _, id := range awaited {
		result, err := s.channel.TryConsume(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("sessionId", id).Msg("signal poll failed")
			continue
		}
		if result != nil {
			s.deliver(id, outcome{result: result})
			continue
		}
		if tableErr != nil {
			continue
		}
		if _, ok := table[id]; ok {
			continue
		}
		s.mux.Lock()
		wait, pending := s.pending[id]
		if pending {
			wait.missed++
			pending = wait.missed >= s.config.MissedPolls
		}
		s.mux.Unlock()
		if pending {
			s.deliver(id, outcome{err: fmt.Errorf("%w: %s", ErrWaitAbandoned, id)})
		}
	}
}
