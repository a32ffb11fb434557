package devsession

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"

	"github.com/project-nyra/devsession/model/session"
	sessiondao "github.com/project-nyra/devsession/service/dao/session"
	storefs "github.com/project-nyra/devsession/service/dao/session/fs"
)

func testingConfig(basePath string) *Config {
	return &Config{
		BaseLocation:   basePath,
		GracePeriodMs:  400,
		PollIntervalMs: 25,
		StartupDelayMs: 10,
		TruncateLimit:  1000,
	}
}

func newTestService(t *testing.T, config *Config) *Service {
	t.Helper()
	service, err := New(WithConfig(config))
	require.NoError(t, err)
	t.Cleanup(service.Shutdown)
	return service
}

func shellRequest(script string) *session.LaunchRequest {
	return &session.LaunchRequest{
		ResourcePath: "/bin/sh",
		Args:         []string{"-c", script},
	}
}

// spawnDeadPID returns the pid of a process that has already exited.
func spawnDeadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	require.NoError(t, cmd.Wait())
	return pid
}

func awaitOutput(t *testing.T, service *Service, id, text string) {
	t.Helper()
	require.Eventually(t, func() bool {
		service.mux.Lock()
		entry := service.live[id]
		service.mux.Unlock()
		if entry == nil {
			return false
		}
		return strings.Contains(strings.Join(entry.sess.Snapshot().OutputLines, "\n"), text)
	}, 3*time.Second, 10*time.Millisecond, "expected output %q", text)
}

func TestService_LaunchAndStopByID(t *testing.T) {
	service := newTestService(t, testingConfig(t.TempDir()))
	ctx := context.Background()

	id, err := service.Launch(ctx, shellRequest("echo started; sleep 30"))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	awaitOutput(t, service, id, "started")

	response, err := service.StopByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, response.SessionID)
	assert.Contains(t, response.OutputText, "started")
	// Killed before exiting on its own: no exit code.
	assert.Nil(t, response.ExitCode)
	assert.GreaterOrEqual(t, response.DurationMs, int64(0))

	// One result per session: a second stop observes not-found.
	_, err = service.StopByID(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestService_SpawnFailureLeavesNoSession(t *testing.T) {
	basePath := t.TempDir()
	service := newTestService(t, testingConfig(basePath))
	ctx := context.Background()

	_, err := service.Launch(ctx, &session.LaunchRequest{ResourcePath: "/missing"})
	require.Error(t, err)

	store, err := storefs.New(afs.New(), basePath)
	require.NoError(t, err)
	table, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, table)

	current, err := store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", current)
}

func TestService_SelfExitResolvesWait(t *testing.T) {
	service := newTestService(t, testingConfig(t.TempDir()))
	ctx := context.Background()

	id, err := service.Launch(ctx, shellRequest("echo bye; exit 0"))
	require.NoError(t, err)

	response, err := service.WaitFor(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, response.SessionID)
	require.NotNil(t, response.ExitCode)
	assert.Equal(t, 0, *response.ExitCode)
	assert.Contains(t, response.OutputText, "bye")
}

func TestService_WaitAfterStopResolvesImmediately(t *testing.T) {
	// A long poll interval proves resolution comes from the already
	// published signal, not from a poller tick.
	config := testingConfig(t.TempDir())
	config.PollIntervalMs = 1000
	service := newTestService(t, config)
	ctx := context.Background()

	id, err := service.Launch(ctx, shellRequest("sleep 30"))
	require.NoError(t, err)

	stopped, err := service.StopByID(ctx, id)
	require.NoError(t, err)

	started := time.Now()
	waited, err := service.WaitFor(ctx, id)
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 500*time.Millisecond)
	assert.Equal(t, stopped.SessionID, waited.SessionID)
	assert.Equal(t, stopped.DurationMs, waited.DurationMs)
	assert.Equal(t, stopped.OutputText, waited.OutputText)
}

func TestService_CrossInvocationStop(t *testing.T) {
	// Two services over one base location share no memory; only the
	// durable store and signal channel connect them.
	basePath := t.TempDir()
	waiting := newTestService(t, testingConfig(basePath))
	stopping := newTestService(t, testingConfig(basePath))
	ctx := context.Background()

	id, err := waiting.Launch(ctx, shellRequest("echo started; sleep 30"))
	require.NoError(t, err)
	awaitOutput(t, waiting, id, "started")

	type waitOutcome struct {
		response *session.Response
		err      error
	}
	done := make(chan waitOutcome, 1)
	go func() {
		response, err := waiting.WaitFor(ctx, id)
		done <- waitOutcome{response: response, err: err}
	}()

	time.Sleep(100 * time.Millisecond)
	stopped, err := stopping.StopByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, stopped.SessionID)
	assert.Contains(t, stopped.OutputText, "started")

	select {
	case outcome := <-done:
		require.NoError(t, outcome.err)
		assert.Equal(t, stopped.SessionID, outcome.response.SessionID)
		assert.Contains(t, outcome.response.OutputText, "started")
		assert.Nil(t, outcome.response.ExitCode)
	case <-time.After(5 * time.Second):
		t.Fatal("waiting invocation never observed the result")
	}

	store, err := storefs.New(afs.New(), basePath)
	require.NoError(t, err)
	table, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, table)
}

func TestService_StopUnknownSession(t *testing.T) {
	service := newTestService(t, testingConfig(t.TempDir()))
	ctx := context.Background()

	_, err := service.StopByID(ctx, "unknown")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = service.StopByID(ctx, "")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = service.StopCurrent(ctx)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = service.WaitFor(ctx, "unknown")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestService_StopByIDRestoresCurrent(t *testing.T) {
	service := newTestService(t, testingConfig(t.TempDir()))
	ctx := context.Background()

	first, err := service.Launch(ctx, shellRequest("sleep 30"))
	require.NoError(t, err)
	second, err := service.Launch(ctx, shellRequest("sleep 30"))
	require.NoError(t, err)

	// Stopping the first must leave the pointer on the still-live second.
	_, err = service.StopByID(ctx, first)
	require.NoError(t, err)

	current, err := service.store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, current)

	response, err := service.StopCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, response.SessionID)

	current, err = service.store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", current)
}

func TestService_StaleSessionReaping(t *testing.T) {
	basePath := t.TempDir()
	ctx := context.Background()

	// Record a session whose process is long gone.
	store, err := storefs.New(afs.New(), basePath)
	require.NoError(t, err)
	stale := session.New("stale", "/bin/sh", "", time.Now())
	stale.PID = spawnDeadPID(t)
	require.NoError(t, store.Upsert(ctx, stale))
	require.NoError(t, store.SetCurrent(ctx, "stale"))

	service := newTestService(t, testingConfig(basePath))
	_, err = service.StopByID(ctx, "stale")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	table, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, table)
}

func TestService_StopDefiantProcessWhileStreaming(t *testing.T) {
	// The process ignores SIGTERM and keeps writing through the whole
	// grace window; the stop must still escalate and return while capture
	// keeps flushing.
	config := testingConfig(t.TempDir())
	config.GracePeriodMs = 300
	service := newTestService(t, config)
	ctx := context.Background()

	id, err := service.Launch(ctx, shellRequest("trap '' TERM; while :; do echo tick; sleep 0.05; done"))
	require.NoError(t, err)
	awaitOutput(t, service, id, "tick")

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	response, err := service.StopByID(stopCtx, id)
	require.NoError(t, err)
	assert.Equal(t, id, response.SessionID)
	assert.Contains(t, response.OutputText, "tick")
}

// slowUpsertStore widens the window between spawn and durable record.
type slowUpsertStore struct {
	sessiondao.Store
	delay time.Duration
}

func (s *slowUpsertStore) Upsert(ctx context.Context, sess *session.Session) error {
	time.Sleep(s.delay)
	return s.Store.Upsert(ctx, sess)
}

func TestService_SelfExitDuringPersistStillDelivers(t *testing.T) {
	basePath := t.TempDir()
	store, err := storefs.New(afs.New(), basePath)
	require.NoError(t, err)
	service, err := New(
		WithConfig(testingConfig(basePath)),
		WithStore(&slowUpsertStore{Store: store, delay: 300 * time.Millisecond}),
	)
	require.NoError(t, err)
	t.Cleanup(service.Shutdown)
	ctx := context.Background()

	// The process is long gone before its record lands; the result must
	// still reach a waiter instead of being dropped.
	id, err := service.Launch(ctx, shellRequest("exit 0"))
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	response, err := service.WaitFor(waitCtx, id)
	require.NoError(t, err)
	assert.Equal(t, id, response.SessionID)
	require.NotNil(t, response.ExitCode)
	assert.Equal(t, 0, *response.ExitCode)
}

func TestService_TruncatesLongCapture(t *testing.T) {
	service := newTestService(t, testingConfig(t.TempDir()))
	ctx := context.Background()

	id, err := service.Launch(ctx, shellRequest("head -c 3000 /dev/zero | tr '\\0' 'x'; sleep 30"))
	require.NoError(t, err)
	awaitOutput(t, service, id, "xxx")

	response, err := service.StopByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(response.OutputText, session.TruncationMarker))
	assert.Len(t, response.OutputText, 1000+len(session.TruncationMarker))
}
