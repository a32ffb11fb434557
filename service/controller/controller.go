// Package controller spawns and terminates the external process behind a
// session. It owns output capture, the exit observer for unprompted
// exits, and the two termination paths: direct-handle control for the
// spawning invocation and identifier-based control for everyone else.
package controller

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/viant/afs"

	"github.com/project-nyra/devsession/internal/clock"
	"github.com/project-nyra/devsession/internal/idgen"
	"github.com/project-nyra/devsession/internal/proc"
	"github.com/project-nyra/devsession/model/session"
)

// Config represents process controller configuration.
type Config struct {
	// GracePeriod bounds how long a graceful terminate waits before
	// escalating to an unconditional kill.
	GracePeriod time.Duration

	// ProbeInterval is how often the identifier-based termination path
	// re-probes a process it cannot wait on.
	ProbeInterval time.Duration
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		GracePeriod:   5 * time.Second,
		ProbeInterval: 100 * time.Millisecond,
	}
}

// ExitObserver is invoked when a spawned process exits without an
// explicit stop. The controller has already built the result; the
// observer routes it the same way a stop would.
type ExitObserver func(sess *session.Session, result *session.Result)

// Persister flushes a session snapshot to the durable store as capture
// arrives.
type Persister func(ctx context.Context, sess *session.Session) error

// Service implements process lifecycle control.
type Service struct {
	config  Config
	fs      afs.Service
	logger  zerolog.Logger
	onExit  ExitObserver
	persist Persister
}

// Option customises the controller.
type Option func(s *Service)

// WithConfig overrides the default configuration.
func WithConfig(config Config) Option {
	return func(s *Service) { s.config = config }
}

// WithLogger sets the structured logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithExitObserver sets the unprompted-exit observer.
func WithExitObserver(observer ExitObserver) Option {
	return func(s *Service) { s.onExit = observer }
}

// WithPersister sets the capture flush callback.
func WithPersister(persist Persister) Option {
	return func(s *Service) { s.persist = persist }
}

// New creates a controller service.
func New(fileService afs.Service, options ...Option) *Service {
	s := &Service{
		config: DefaultConfig(),
		fs:     fileService,
		logger: zerolog.Nop(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Alive reports whether pid names a live process.
func (s *Service) Alive(pid int) bool { return proc.Alive(pid) }

// Launch spawns the external process described by the request and starts
// output capture. Exit observation does not begin until Watch is called,
// so the caller can record the session durably before an immediate exit
// is routed anywhere. On spawn failure no session exists and the error is
// terminal to this launch.
func (s *Service) Launch(ctx context.Context, request *session.LaunchRequest) (*session.Session, *Handle, error) {
	if err := request.Validate(); err != nil {
		return nil, nil, err
	}
	exists, err := s.fs.Exists(ctx, request.ResourcePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check resource %s: %w", request.ResourcePath, err)
	}
	if !exists {
		return nil, nil, fmt.Errorf("resource not found: %s", request.ResourcePath)
	}

	sess := session.New(idgen.New(), request.ResourcePath, request.WorkDirectory, clock.Now())

	cmd := exec.Command(request.ResourcePath, request.Args...)
	cmd.Dir = request.WorkDirectory
	// Own process group so graceful and forceful signals reach children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to spawn %s: %w", request.ResourcePath, err)
	}
	sess.PID = cmd.Process.Pid
	handle := Live(cmd)

	s.logger.Debug().
		Str("sessionId", sess.ID).
		Int("pid", sess.PID).
		Str("resource", request.ResourcePath).
		Msg("session spawned")

	handle.readers.Add(2)
	go s.capture(sess, stdout, sess.AppendOutput, &handle.readers)
	go s.capture(sess, stderr, sess.AppendError, &handle.readers)

	return sess, handle, nil
}

// Watch begins exit observation for a live handle. Until it runs, nothing
// waits on the process and Done never closes, so every launched session
// must be watched exactly once.
func (s *Service) Watch(sess *session.Session, handle *Handle) {
	if sess == nil || !handle.IsLive() {
		return
	}
	go s.observeExit(sess, handle)
}

// capture streams one pipe into the session buffers line by line and
// flushes the session so other invocations see capture as it arrives.
func (s *Service) capture(sess *session.Session, reader io.Reader, append func(string), readers *sync.WaitGroup) {
	defer readers.Done()
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		append(scanner.Text())
		if s.persist != nil {
			if err := s.persist(context.Background(), sess.Snapshot()); err != nil {
				s.logger.Warn().Err(err).Str("sessionId", sess.ID).Msg("capture flush failed")
			}
		}
	}
}

// observeExit waits on the live handle and, for unprompted exits, builds
// a result and hands it to the exit observer.
func (s *Service) observeExit(sess *session.Session, handle *Handle) {
	// Drain both pipes to EOF before Wait closes them, so the result
	// carries everything the process managed to write.
	handle.readers.Wait()
	err := handle.cmd.Wait()
	code := -1
	if handle.cmd.ProcessState != nil {
		code = handle.cmd.ProcessState.ExitCode()
	}
	handle.markExited(code)

	if handle.stopRequested() {
		return
	}
	s.logger.Debug().
		Str("sessionId", sess.ID).
		Int("exitCode", code).
		AnErr("waitErr", err).
		Msg("session exited on its own")
	if s.onExit != nil {
		s.onExit(sess, s.BuildResult(sess, handle.ExitCode()))
	}
}

// BuildResult assembles the one Result for a finished session.
func (s *Service) BuildResult(sess *session.Session, exitCode *int) *session.Result {
	snapshot := sess.Snapshot()
	return &session.Result{
		SessionID:   snapshot.ID,
		DurationMs:  clock.Now().Sub(snapshot.StartedAt).Milliseconds(),
		ExitCode:    exitCode,
		OutputLines: snapshot.OutputLines,
		ErrorLines:  snapshot.ErrorLines,
	}
}

// Terminate ends the session's process: graceful signal first, then an
// unconditional kill once the grace period elapses. Terminating an
// already-gone process is a no-op. The handle may be nil or detached for
// sessions owned by another invocation.
func (s *Service) Terminate(ctx context.Context, sess *session.Session, handle *Handle) error {
	if handle != nil && handle.IsLive() {
		return s.terminateLive(ctx, sess, handle)
	}
	return s.terminateByPID(ctx, sess)
}

func (s *Service) terminateLive(ctx context.Context, sess *session.Session, handle *Handle) error {
	if !handle.beginStop() {
		// Another local stop already owns termination; wait it out.
		select {
		case <-handle.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-handle.Done():
		// Already exited; desired end state holds.
		return nil
	default:
	}

	s.signal(sess, handle.PID(), syscall.SIGTERM, "graceful terminate")

	select {
	case <-handle.Done():
		return nil
	case <-time.After(s.config.GracePeriod):
	case <-ctx.Done():
		return ctx.Err()
	}

	s.signal(sess, handle.PID(), syscall.SIGKILL, "forced kill")
	select {
	case <-handle.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// terminateByPID applies the same grace-then-escalate policy to a bare
// pid. No exit notification exists cross-process, so the grace wait is a
// probe loop.
func (s *Service) terminateByPID(ctx context.Context, sess *session.Session) error {
	pid := sess.PID
	if pid <= 0 || !proc.Alive(pid) {
		return nil
	}

	s.signal(sess, pid, syscall.SIGTERM, "graceful terminate")

	deadline := time.After(s.config.GracePeriod)
	ticker := time.NewTicker(s.config.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !proc.Alive(pid) {
				return nil
			}
		case <-deadline:
			s.signal(sess, pid, syscall.SIGKILL, "forced kill")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// signal delivers sig to the process group when possible, falling back to
// the single process. A missing process is the desired end state.
func (s *Service) signal(sess *session.Session, pid int, sig syscall.Signal, reason string) {
	s.logger.Debug().
		Str("sessionId", sess.ID).
		Int("pid", pid).
		Str("signal", sig.String()).
		Msg(reason)
	if pgid, err := syscall.Getpgid(pid); err == nil {
		if err := syscall.Kill(-pgid, sig); err == nil || errors.Is(err, syscall.ESRCH) {
			return
		}
	}
	if err := syscall.Kill(pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn().Err(err).Int("pid", pid).Msg("signal delivery failed")
	}
}
