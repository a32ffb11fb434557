// Package sessiondao defines the durable session table contract shared by
// every invocation on the host. The table is the source of truth; any
// in-memory view is a cache reconciled against it before mutation.
package sessiondao

import (
	"context"

	"github.com/project-nyra/devsession/model/session"
)

// Store persists the session table and the "current session" pointer so
// that both survive the writing process's exit.
type Store interface {
	// Load returns the full table. Implementations reconcile against the
	// durable record and drop entries whose recorded process is no longer
	// alive.
	Load(ctx context.Context) (session.Table, error)

	// Save rewrites the full table.
	Save(ctx context.Context, table session.Table) error

	// Upsert inserts or replaces one session under the store lock.
	Upsert(ctx context.Context, sess *session.Session) error

	// Remove deletes one session; it reports whether an entry existed.
	Remove(ctx context.Context, id string) (bool, error)

	// Current returns the durable current-session pointer, empty when
	// unset.
	Current(ctx context.Context) (string, error)

	// SetCurrent updates the pointer; an empty id clears it.
	SetCurrent(ctx context.Context, id string) error
}
