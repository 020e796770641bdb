package es

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockKey(t *testing.T) {
	a := LockKey(MustID[counterKind]("c1"))
	require.Len(t, a, 16)
	require.Equal(t, a, LockKey(MustID[counterKind]("c1")))
	require.NotEqual(t, a, LockKey(MustID[counterKind]("c2")))
	require.NotEqual(t, a, LockKey(otherID("c1")))
}

func TestLocalLockFactory(t *testing.T) {
	f := NewLocalLockFactory()
	ctx := t.Context()

	l, err := f.Acquire(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "k", l.Key())

	// a second holder waits until the context gives up
	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = f.Acquire(waitCtx, "k")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, l.Release(ctx))
	require.ErrorIs(t, l.Release(ctx), ErrLockNotHeld)
	require.Equal(t, 0, f.Held())

	l, err = f.Acquire(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx))
}

func TestLocalLockFactory_Exclusive(t *testing.T) {
	f := NewLocalLockFactory()

	var (
		inside atomic.Int32
		wg     sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := f.Acquire(context.Background(), "k")
			if err != nil {
				t.Error(err)
				return
			}
			if inside.Add(1) != 1 {
				t.Error("two holders inside the lock")
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			_ = l.Release(context.Background())
		}()
	}
	wg.Wait()
}
