package devsession

import "errors"

// ErrSessionNotFound is returned by stop and wait operations for an
// unknown session id. It is reported, not fatal: it usually means the
// session already completed elsewhere.
var ErrSessionNotFound = errors.New("devsession: session not found")
