// Package signal defines the one-shot, durable, per-session mailbox that
// delivers a completion Result to whichever invocation is waiting, even
// when publisher and consumer share no memory.
package signal

import (
	"context"

	"github.com/project-nyra/devsession/model/session"
)

// Channel is the cross-invocation delivery contract. A published Result
// stays available until exactly one TryConsume removes it.
type Channel interface {
	// Publish stores the result for the session named by the result.
	Publish(ctx context.Context, result *session.Result) error

	// TryConsume returns the pending result for sessionID and deletes it,
	// or (nil, nil) when no signal exists.
	TryConsume(ctx context.Context, sessionID string) (*session.Result, error)
}
