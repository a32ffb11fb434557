// Package fs implements the signal channel as one JSON mailbox file per
// session under a shared base directory. Check-then-delete runs under the
// same lockfile the session store uses, so consumption is exactly-once
// across invocations that honour the lock.
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"

	"github.com/project-nyra/devsession/internal/flock"
	"github.com/project-nyra/devsession/internal/idgen"
	"github.com/project-nyra/devsession/model/session"
	"github.com/project-nyra/devsession/service/dao"
	"github.com/project-nyra/devsession/service/signal"
)

const (
	signalsDir = "signals"
	lockFile   = "signals.lock"
)

// Channel implements signal.Channel on the local filesystem.
type Channel struct {
	basePath string
	fs       afs.Service
	mu       sync.Mutex
}

var _ signal.Channel = (*Channel)(nil)

// New creates a filesystem-backed channel rooted at basePath.
func New(fileService afs.Service, basePath string) (*Channel, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	c := &Channel{basePath: basePath, fs: fileService}
	ctx := context.Background()
	dir := path.Join(basePath, signalsDir)
	if exists, _ := c.fs.Exists(ctx, dir); !exists {
		if err := c.fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create signal directory %s: %w", dir, err)
		}
	}
	return c, nil
}

// Publish stores the result as the session's mailbox file. The write goes
// to a sibling temp file first and is moved into place, so a concurrent
// consumer sees the whole record or nothing.
func (c *Channel) Publish(ctx context.Context, result *session.Result) error {
	if result == nil {
		return dao.ErrNilEntity
	}
	if result.SessionID == "" {
		return dao.ErrInvalidID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}
	dest := c.signalPath(result.SessionID)
	tmp := dest + ".tmp-" + idgen.New()
	if err := c.fs.Upload(ctx, tmp, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write signal %s: %w", tmp, err)
	}
	if err := c.fs.Move(ctx, tmp, dest); err != nil {
		return fmt.Errorf("failed to publish signal %s: %w", dest, err)
	}
	return nil
}

// TryConsume reads and deletes the session's mailbox file under the
// channel lock; it returns (nil, nil) when no signal is pending.
func (c *Channel) TryConsume(ctx context.Context, sessionID string) (*session.Result, error) {
	if sessionID == "" {
		return nil, dao.ErrInvalidID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	lock, err := flock.Acquire(ctx, path.Join(c.basePath, lockFile))
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	signalPath := c.signalPath(sessionID)
	exists, err := c.fs.Exists(ctx, signalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to check signal %s: %w", signalPath, err)
	}
	if !exists {
		return nil, nil
	}
	data, err := c.fs.DownloadWithURL(ctx, signalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read signal %s: %w", signalPath, err)
	}
	var result session.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal signal %s: %w", signalPath, err)
	}
	if err := c.fs.Delete(ctx, signalPath); err != nil {
		return nil, fmt.Errorf("failed to consume signal %s: %w", signalPath, err)
	}
	return &result, nil
}

func (c *Channel) signalPath(sessionID string) string {
	return path.Join(c.basePath, signalsDir, sessionID+".json")
}
