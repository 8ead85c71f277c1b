// Package partylock serializes work per party so that two orchestrations
// never select the same holdings.
package partylock

import (
	"context"
	"sync"
)

// Locker is a keyed mutex. The zero value is ready to use. A key's slot is
// dropped once nobody holds or waits for it.
type Locker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// New creates a Locker.
func New() *Locker {
	return &Locker{}
}

func (l *Locker) acquire(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.slots == nil {
		l.slots = make(map[string]*slot)
	}
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Locker) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *Locker) unlocker(key string, s *slot) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.drop(key, s)
		})
	}
}

// Lock acquires the lock for key, waiting until it is free or ctx ends.
// The returned function releases it and is safe to call more than once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	s := l.acquire(key)
	select {
	case s.ch <- struct{}{}:
		return l.unlocker(key, s), nil
	case <-ctx.Done():
		l.drop(key, s)
		return nil, ctx.Err()
	}
}

// TryLock acquires the lock for key only if it is free.
func (l *Locker) TryLock(key string) (func(), bool) {
	s := l.acquire(key)
	select {
	case s.ch <- struct{}{}:
		return l.unlocker(key, s), true
	default:
		l.drop(key, s)
		return nil, false
	}
}
