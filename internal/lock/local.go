package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Local serializes callers sharing a key within one process. It satisfies the
// same contract as Locker for deployments without Redis.
type Local struct {
	mu   sync.Mutex
	keys map[string]*localEntry
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

// WithLock executes fn while holding the in-process lock for key. The ttl is
// ignored; the lock is held until fn returns.
func (l *Local) WithLock(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	entry := l.acquireEntry(key)
	defer l.releaseEntry(key, entry)

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-entry.ch }()
	return fn(ctx)
}

func (l *Local) acquireEntry(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.keys == nil {
		l.keys = make(map[string]*localEntry)
	}
	e, ok := l.keys[key]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	return e
}

func (l *Local) releaseEntry(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}
