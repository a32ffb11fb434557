// Package flock implements a minimal lockfile guarding the durable session
// state against concurrent read-modify-write from multiple invocations.
// Acquisition creates the lock path with O_EXCL; a lock older than its
// staleness bound is treated as abandoned by a dead invocation and taken
// over.
package flock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	retryInterval = 10 * time.Millisecond
	staleAfter    = 10 * time.Second
)

// Lock represents a held lockfile.
type Lock struct {
	path string
}

// Acquire blocks until the lockfile at path is held or ctx is done.
func Acquire(ctx context.Context, path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lockfile %s: %w", path, err)
		}
		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > staleAfter {
			// Holder most likely died; take the lock over.
			_ = os.Remove(path)
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Release removes the lockfile. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	l.path = ""
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
