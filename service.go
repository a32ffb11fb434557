package devsession

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/viant/afs"

	"github.com/project-nyra/devsession/model/session"
	"github.com/project-nyra/devsession/service/controller"
	sessiondao "github.com/project-nyra/devsession/service/dao/session"
	storefs "github.com/project-nyra/devsession/service/dao/session/fs"
	"github.com/project-nyra/devsession/service/signal"
	signalfs "github.com/project-nyra/devsession/service/signal/fs"
	"github.com/project-nyra/devsession/service/waiter"
	"github.com/project-nyra/devsession/tracing"
)

// liveSession pairs an in-memory session with the live handle of the
// invocation that spawned it. Only this invocation ever holds one.
type liveSession struct {
	sess   *session.Session
	handle *controller.Handle
}

// Service is the session orchestrator façade. It threads the durable
// current pointer and all shared state explicitly; nothing global.
type Service struct {
	config     *Config
	fs         afs.Service
	store      sessiondao.Store
	channel    signal.Channel
	controller *controller.Service
	waiter     *waiter.Service
	logger     zerolog.Logger

	mux  sync.Mutex
	live map[string]*liveSession

	// stopMux serialises stop operations. It is never held by the capture
	// flush path, so a stop can wait out a process that keeps writing.
	stopMux sync.Mutex

	pollerCancel context.CancelFunc
	shutdownOnce sync.Once
}

// New creates a ready-to-use orchestrator. Unset collaborators fall back
// to the filesystem-backed defaults under Config.BaseLocation.
func New(options ...Option) (*Service, error) {
	s := &Service{
		config: DefaultConfig(),
		logger: zerolog.Nop(),
		live:   map[string]*liveSession{},
	}
	for _, option := range options {
		option(s)
	}
	if err := s.config.Validate(); err != nil {
		return nil, err
	}
	if err := s.ensureBaseSetup(); err != nil {
		return nil, err
	}

	s.controller = controller.New(s.fs,
		controller.WithConfig(s.config.controllerConfig()),
		controller.WithLogger(s.logger),
		controller.WithExitObserver(s.onUnpromptedExit),
		controller.WithPersister(s.persistCapture))

	var err error
	s.waiter, err = waiter.New(s.store, s.channel,
		waiter.WithConfig(s.config.waiterConfig()),
		waiter.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}

	pollerCtx, cancel := context.WithCancel(context.Background())
	s.pollerCancel = cancel
	go s.waiter.Start(pollerCtx)
	return s, nil
}

func (s *Service) ensureBaseSetup() error {
	if s.fs == nil {
		s.fs = afs.New()
	}
	basePath := s.config.BaseLocation
	if basePath == "" {
		basePath = storefs.DefaultBasePath()
	}
	if s.store == nil {
		store, err := storefs.New(s.fs, basePath)
		if err != nil {
			return err
		}
		s.store = store
	}
	if s.channel == nil {
		channel, err := signalfs.New(s.fs, basePath)
		if err != nil {
			return err
		}
		s.channel = channel
	}
	return nil
}

// Shutdown stops the completion poller. Running sessions keep running;
// their durable state lets any later invocation finish them.
func (s *Service) Shutdown() {
	s.shutdownOnce.Do(func() {
		if s.pollerCancel != nil {
			s.pollerCancel()
		}
		s.waiter.Shutdown()
	})
}

// Launch spawns the requested process, persists the session and points
// the durable current pointer at it. On spawn failure no session exists.
func (s *Service) Launch(ctx context.Context, request *session.LaunchRequest) (id string, err error) {
	ctx, span := tracing.StartSpan(ctx, "devsession.Launch", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()

	sess, handle, err := s.controller.Launch(ctx, request)
	if err != nil {
		return "", err
	}

	s.mux.Lock()
	s.live[sess.ID] = &liveSession{sess: sess, handle: handle}
	s.mux.Unlock()

	if err = s.store.Upsert(ctx, sess.Snapshot()); err == nil {
		err = s.store.SetCurrent(ctx, sess.ID)
	}
	if err != nil {
		// The session is unusable without durable state; take the
		// process back down before reporting. Terminate needs exit
		// observation running to see the process go.
		s.controller.Watch(sess, handle)
		_ = s.controller.Terminate(ctx, sess, handle)
		s.mux.Lock()
		delete(s.live, sess.ID)
		s.mux.Unlock()
		return "", fmt.Errorf("failed to persist session %s: %w", sess.ID, err)
	}

	// Exit observation starts only now that the session is durably
	// recorded, so a process that exits instantly still finalises against
	// an existing entry and its result is published.
	s.controller.Watch(sess, handle)

	s.logger.Info().
		Str("sessionId", sess.ID).
		Int("pid", sess.PID).
		Msg("session launched")
	return sess.ID, nil
}

// StopCurrent terminates the session the durable current pointer names.
func (s *Service) StopCurrent(ctx context.Context) (resp *session.Response, err error) {
	ctx, span := tracing.StartSpan(ctx, "devsession.StopCurrent", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()

	s.stopMux.Lock()
	defer s.stopMux.Unlock()
	return s.stopCurrent(ctx)
}

// StopByID terminates one session by id. It reuses the current-pointer
// termination path: repoint, stop, then restore the prior pointer when it
// named a different session that is still live.
func (s *Service) StopByID(ctx context.Context, id string) (resp *session.Response, err error) {
	ctx, span := tracing.StartSpan(ctx, "devsession.StopByID", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()

	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrSessionNotFound)
	}

	s.stopMux.Lock()
	defer s.stopMux.Unlock()

	if !s.knownSession(ctx, id) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	prior, err := s.store.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read current pointer: %w", err)
	}
	if err = s.store.SetCurrent(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to repoint current session: %w", err)
	}

	resp, err = s.stopCurrent(ctx)

	if prior != "" && prior != id {
		if table, loadErr := s.store.Load(ctx); loadErr == nil {
			if _, stillLive := table[prior]; stillLive {
				if restoreErr := s.store.SetCurrent(ctx, prior); restoreErr != nil {
					s.logger.Warn().Err(restoreErr).Str("sessionId", prior).Msg("failed to restore current pointer")
				}
			}
		}
	}
	return resp, err
}

// WaitFor blocks until the session's result arrives, from the local stop
// path or from a signal another invocation published.
func (s *Service) WaitFor(ctx context.Context, id string) (resp *session.Response, err error) {
	ctx, span := tracing.StartSpan(ctx, "devsession.WaitFor", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()

	result, err := s.waiter.WaitFor(ctx, id)
	if err != nil {
		if errors.Is(err, waiter.ErrUnknownSession) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, err
	}
	return result.Response(s.config.TruncateLimit), nil
}

// stopCurrent runs under stopMux. It takes mux only for the live-map
// lookup and the final bookkeeping, never across Terminate: the capture
// goroutines flush through mux and must stay able to drain the pipes
// while the stop waits for the process to die.
func (s *Service) stopCurrent(ctx context.Context) (*session.Response, error) {
	id, err := s.store.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read current pointer: %w", err)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: no current session", ErrSessionNotFound)
	}

	s.mux.Lock()
	entry := s.live[id]
	s.mux.Unlock()
	var sess *session.Session
	var handle *controller.Handle
	if entry != nil {
		sess, handle = entry.sess, entry.handle
	} else {
		// Spawned by another invocation: reconcile against the store and
		// control by recorded pid only.
		table, loadErr := s.store.Load(ctx)
		if loadErr != nil {
			return nil, fmt.Errorf("failed to load session table: %w", loadErr)
		}
		stored, ok := table[id]
		if !ok {
			_ = s.store.SetCurrent(ctx, "")
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		sess = stored
	}

	if err := s.controller.Terminate(ctx, sess, handle); err != nil {
		return nil, fmt.Errorf("failed to terminate session %s: %w", id, err)
	}

	var exitCode *int
	if handle != nil {
		exitCode = handle.ExitCode()
	}
	result := s.controller.BuildResult(sess, exitCode)
	s.mux.Lock()
	s.finalize(ctx, id, result)
	s.mux.Unlock()
	return result.Response(s.config.TruncateLimit), nil
}

// finalize applies the fixed completion order: drop the live entry,
// remove the durable session, clear the pointer, then deliver the result
// to a local waiter or publish it for a remote one. The caller holds mux.
func (s *Service) finalize(ctx context.Context, id string, result *session.Result) {
	delete(s.live, id)

	removed, err := s.store.Remove(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("sessionId", id).Msg("failed to remove session entry")
	}
	if current, err := s.store.Current(ctx); err == nil && current == id {
		_ = s.store.SetCurrent(ctx, "")
	}

	if s.waiter.Resolve(id, result) {
		s.logger.Debug().Str("sessionId", id).Msg("result delivered to local waiter")
		return
	}
	if !removed {
		// Another path finalised the durable entry first and owns signal
		// publication; emitting a second signal would mint a second
		// result for the session.
		return
	}
	if err := s.channel.Publish(ctx, result); err != nil {
		s.logger.Error().Err(err).Str("sessionId", id).Msg("failed to publish completion signal")
		return
	}
	s.logger.Debug().Str("sessionId", id).Msg("completion signal published")
}

// onUnpromptedExit routes a self-terminated session exactly as an
// explicit stop would.
func (s *Service) onUnpromptedExit(sess *session.Session, result *session.Result) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.logger.Info().
		Str("sessionId", sess.ID).
		Msg("session exited without a stop request")
	s.finalize(context.Background(), sess.ID, result)
}

// persistCapture flushes capture snapshots for sessions that are still
// tracked; late lines from a finalised session must not resurrect its
// durable entry.
func (s *Service) persistCapture(ctx context.Context, snapshot *session.Session) error {
	s.mux.Lock()
	entry := s.live[snapshot.ID]
	s.mux.Unlock()
	if entry == nil {
		return nil
	}
	return s.store.Upsert(ctx, snapshot)
}

// knownSession reports whether id is tracked locally or durably.
func (s *Service) knownSession(ctx context.Context, id string) bool {
	s.mux.Lock()
	_, ok := s.live[id]
	s.mux.Unlock()
	if ok {
		return true
	}
	table, err := s.store.Load(ctx)
	if err != nil {
		return false
	}
	_, ok = table[id]
	return ok
}
