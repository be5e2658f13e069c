// Package worktree serializes mutations of a git working tree. The checked
// out branch, the index and HEAD are one shared resource per repository, so
// every operation that touches them runs under that repository's lock.
package worktree

import (
	"context"
	"path/filepath"
	"sync"
)

// Locker hands out one mutual-exclusion lock per repository path. The zero
// value is ready to use.
type Locker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func (l *Locker) slot(path string) chan struct{} {
	key := filepath.Clean(path)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.slots == nil {
		l.slots = make(map[string]chan struct{})
	}
	s, ok := l.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[key] = s
	}
	return s
}

// Lock blocks until the lock for path is held or ctx is done. The returned
// unlock func is safe to call more than once.
func (l *Locker) Lock(ctx context.Context, path string) (func(), error) {
	s := l.slot(path)
	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-s })
	}, nil
}

// TryLock acquires the lock for path only if it is free.
func (l *Locker) TryLock(path string) (func(), bool) {
	s := l.slot(path)
	select {
	case s <- struct{}{}:
	default:
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-s })
	}, true
}
