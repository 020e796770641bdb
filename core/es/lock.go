package es

import (
	"context"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/codewandler/esengine/core/perkey"
)

const lockKeyPrefix = "esengine.aggregate:"

type (
	// Lock is an exclusive lock on one key, held until Release.
	Lock interface {
		Key() string
		Release(ctx context.Context) error
	}

	// LockFactory hands out named locks. Acquire blocks until the lock is
	// held or ctx is done.
	LockFactory interface {
		Acquire(ctx context.Context, key string) (Lock, error)
	}
)

// LockKey derives the lock name of an aggregate. The name is stable across
// processes so a distributed LockFactory serializes the same aggregate everywhere.
func LockKey(id AggregateID) string {
	h, _ := blake2b.New(8, nil)
	h.Write([]byte(lockKeyPrefix))
	h.Write([]byte(id.IDType()))
	h.Write([]byte{':'})
	h.Write([]byte(id.String()))
	return hex.EncodeToString(h.Sum(nil))
}

// LocalLockFactory serializes lock holders within one process.
type LocalLockFactory struct {
	m *perkey.Mutex[string]
}

func NewLocalLockFactory() *LocalLockFactory {
	return &LocalLockFactory{m: perkey.New[string]()}
}

func (f *LocalLockFactory) Acquire(ctx context.Context, key string) (Lock, error) {
	unlock, err := f.m.Lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return &localLock{key: key, unlock: unlock}, nil
}

// Held returns the number of keys currently locked or waited for.
func (f *LocalLockFactory) Held() int { return f.m.Len() }

type localLock struct {
	key      string
	unlock   func()
	released bool
}

func (l *localLock) Key() string { return l.key }

func (l *localLock) Release(context.Context) error {
	if l.released {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, l.key)
	}
	l.released = true
	l.unlock()
	return nil
}

var _ LockFactory = (*LocalLockFactory)(nil)
