// Package lock serialises allocation runs per counterparty.
package lock

import (
	"context"
	"sync"
)

// Locker acquires a named lock. The returned function releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Local is an in-process Locker holding one mutex per key.
type Local struct {
	mapMu sync.Mutex
	muMap map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates a Local locker.
func NewLocal() *Local {
	return &Local{muMap: make(map[string]*keyLock)}
}

// Lock blocks until key is free or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mapMu.Lock()
	kl, ok := l.muMap[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.muMap[key] = kl
	}
	kl.refs++
	l.mapMu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, kl, true) })
	}, nil
}

func (l *Local) release(key string, kl *keyLock, held bool) {
	if held {
		<-kl.ch
	}
	l.mapMu.Lock()
	defer l.mapMu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.muMap, key)
	}
}

// Key returns the lock key for a counterparty.
func Key(kind, name string) string {
	return "counterparty:" + kind + ":" + name
}
