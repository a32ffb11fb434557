// Package memory implements an in-process signal channel for tests and
// embedded single-invocation use.
package memory

import (
	"context"
	"sync"

	"github.com/project-nyra/devsession/model/session"
	"github.com/project-nyra/devsession/service/dao"
	"github.com/project-nyra/devsession/service/signal"
)

// Channel keeps pending signals in a map guarded by a mutex.
type Channel struct {
	pending map[string]*session.Result
	mux     sync.Mutex
}

var _ signal.Channel = (*Channel)(nil)

// New creates an empty in-memory channel.
func New() *Channel {
	return &Channel{pending: map[string]*session.Result{}}
}

func (c *Channel) Publish(_ context.Context, result *session.Result) error {
	if result == nil {
		return dao.ErrNilEntity
	}
	if result.SessionID == "" {
		return dao.ErrInvalidID
	}
	c.mux.Lock()
	defer c.mux.Unlock()
	c.pending[result.SessionID] = result
	return nil
}

func (c *Channel) TryConsume(_ context.Context, sessionID string) (*session.Result, error) {
	if sessionID == "" {
		return nil, dao.ErrInvalidID
	}
	c.mux.Lock()
	defer c.mux.Unlock()
	result, ok := c.pending[sessionID]
	if !ok {
		return nil, nil
	}
	delete(c.pending, sessionID)
	return result, nil
}
