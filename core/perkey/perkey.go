// Package perkey provides a keyed mutex: holders of different keys proceed
// concurrently while holders of the same key are serialized.
//
// Typical use-case: event-sourced aggregates, where every write to one
// aggregate must run under an exclusive lock while different aggregates are
// written in parallel.
package perkey

import (
	"context"
	"sync"
)

// Mutex hands out exclusive per-key locks. Keys are tracked only while some
// caller holds or waits for them, so the map does not grow with the key space.
type Mutex[K comparable] struct {
	mu    sync.Mutex
	slots map[K]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// New creates a new Mutex.
func New[K comparable]() *Mutex[K] {
	return &Mutex[K]{slots: make(map[K]*slot)}
}

// Lock blocks until the lock for key is acquired or ctx is done. The returned
// unlock function is idempotent.
func (m *Mutex[K]) Lock(ctx context.Context, key K) (unlock func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := m.acquireSlot(key)

	select {
	case s.ch <- struct{}{}:
		return m.unlocker(key, s), nil
	case <-ctx.Done():
		m.releaseSlot(key, s)
		return nil, ctx.Err()
	}
}

// TryLock acquires the lock for key only if it is free.
func (m *Mutex[K]) TryLock(key K) (unlock func(), ok bool) {
	s := m.acquireSlot(key)
	select {
	case s.ch <- struct{}{}:
		return m.unlocker(key, s), true
	default:
		m.releaseSlot(key, s)
		return nil, false
	}
}

// Do runs fn while holding the lock for key.
func (m *Mutex[K]) Do(ctx context.Context, key K, fn func() error) error {
	unlock, err := m.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// Len returns the number of keys currently held or waited for.
func (m *Mutex[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

func (m *Mutex[K]) acquireSlot(key K) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	return s
}

func (m *Mutex[K]) releaseSlot(key K, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

func (m *Mutex[K]) unlocker(key K, s *slot) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			m.releaseSlot(key, s)
		})
	}
}
