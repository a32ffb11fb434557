// Package fs implements the durable session table on the local
// filesystem: one JSON record for the table, one record for the current
// pointer, both rewritten atomically under a host-wide lockfile so that
// concurrent invocations never observe a torn write.
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"

	"github.com/project-nyra/devsession/internal/flock"
	"github.com/project-nyra/devsession/internal/idgen"
	"github.com/project-nyra/devsession/internal/proc"
	"github.com/project-nyra/devsession/model/session"
	"github.com/project-nyra/devsession/service/dao"
	sessiondao "github.com/project-nyra/devsession/service/dao/session"
)

const (
	tableFile   = "sessions.json"
	pointerFile = "current"
	lockFile    = "state.lock"
)

// Service implements sessiondao.Store on top of a base directory shared by
// every invocation on the host.
type Service struct {
	basePath string
	fs       afs.Service
	alive    func(pid int) bool
	mu       sync.Mutex
}

var _ sessiondao.Store = (*Service)(nil)

// Option customises the store.
type Option func(s *Service)

// WithAliveProbe overrides the liveness probe used for stale reaping.
func WithAliveProbe(alive func(pid int) bool) Option {
	return func(s *Service) { s.alive = alive }
}

// New creates a filesystem-backed session store rooted at basePath. An
// empty basePath falls back to the host default under the temporary
// storage location.
func New(fileService afs.Service, basePath string, options ...Option) (*Service, error) {
	if basePath == "" {
		basePath = DefaultBasePath()
	}
	s := &Service{
		basePath: basePath,
		fs:       fileService,
		alive:    proc.Alive,
	}
	for _, option := range options {
		option(s)
	}
	ctx := context.Background()
	if exists, _ := s.fs.Exists(ctx, basePath); !exists {
		if err := s.fs.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create store directory %s: %w", basePath, err)
		}
	}
	return s, nil
}

// DefaultBasePath returns the well-known host-scoped state location.
func DefaultBasePath() string {
	return path.Join(os.TempDir(), "devsession")
}

// Load reads the table and reaps entries whose recorded process is gone.
func (s *Service) Load(ctx context.Context) (session.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := flock.Acquire(ctx, s.lockPath())
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	table, err := s.readTable(ctx)
	if err != nil {
		return nil, err
	}
	reaped := false
	for id, sess := range table {
		if sess == nil || !s.alive(sess.PID) {
			delete(table, id)
			reaped = true
		}
	}
	if reaped {
		if err := s.writeTable(ctx, table); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// Save rewrites the full table.
func (s *Service) Save(ctx context.Context, table session.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := flock.Acquire(ctx, s.lockPath())
	if err != nil {
		return err
	}
	defer lock.Release()

	return s.writeTable(ctx, table)
}

// Upsert inserts or replaces one session using read-modify-write under the
// store lock.
func (s *Service) Upsert(ctx context.Context, sess *session.Session) error {
	if sess == nil {
		return dao.ErrNilEntity
	}
	if sess.ID == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := flock.Acquire(ctx, s.lockPath())
	if err != nil {
		return err
	}
	defer lock.Release()

	table, err := s.readTable(ctx)
	if err != nil {
		return err
	}
	table[sess.ID] = sess
	return s.writeTable(ctx, table)
}

// Remove deletes one session, reporting whether an entry existed.
func (s *Service) Remove(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := flock.Acquire(ctx, s.lockPath())
	if err != nil {
		return false, err
	}
	defer lock.Release()

	table, err := s.readTable(ctx)
	if err != nil {
		return false, err
	}
	if _, ok := table[id]; !ok {
		return false, nil
	}
	delete(table, id)
	if err := s.writeTable(ctx, table); err != nil {
		return false, err
	}
	return true, nil
}

// Current returns the durable current-session pointer.
func (s *Service) Current(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pointerPath := path.Join(s.basePath, pointerFile)
	exists, err := s.fs.Exists(ctx, pointerPath)
	if err != nil {
		return "", fmt.Errorf("failed to check current pointer: %w", err)
	}
	if !exists {
		return "", nil
	}
	data, err := s.fs.DownloadWithURL(ctx, pointerPath)
	if err != nil {
		return "", fmt.Errorf("failed to read current pointer: %w", err)
	}
	return string(bytes.TrimSpace(data)), nil
}

// SetCurrent updates the pointer; an empty id clears it.
func (s *Service) SetCurrent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pointerPath := path.Join(s.basePath, pointerFile)
	if id == "" {
		if exists, _ := s.fs.Exists(ctx, pointerPath); exists {
			if err := s.fs.Delete(ctx, pointerPath); err != nil {
				return fmt.Errorf("failed to clear current pointer: %w", err)
			}
		}
		return nil
	}
	return s.replace(ctx, pointerPath, []byte(id))
}

func (s *Service) lockPath() string {
	return path.Join(s.basePath, lockFile)
}

func (s *Service) readTable(ctx context.Context) (session.Table, error) {
	tablePath := path.Join(s.basePath, tableFile)
	exists, err := s.fs.Exists(ctx, tablePath)
	if err != nil {
		return nil, fmt.Errorf("failed to check session table: %w", err)
	}
	if !exists {
		return session.Table{}, nil
	}
	data, err := s.fs.DownloadWithURL(ctx, tablePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read session table: %w", err)
	}
	var table session.Table
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session table: %w", err)
	}
	if table == nil {
		table = session.Table{}
	}
	return table, nil
}

func (s *Service) writeTable(ctx context.Context, table session.Table) error {
	data, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("failed to marshal session table: %w", err)
	}
	return s.replace(ctx, path.Join(s.basePath, tableFile), data)
}

// replace writes data next to dest and moves it into place so readers see
// either the old record or the new one, never a partial write.
func (s *Service) replace(ctx context.Context, dest string, data []byte) error {
	tmp := dest + ".tmp-" + idgen.New()
	if err := s.fs.Upload(ctx, tmp, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := s.fs.Move(ctx, tmp, dest); err != nil {
		return fmt.Errorf("failed to replace %s: %w", dest, err)
	}
	return nil
}
