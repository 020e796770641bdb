package perkey

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMutex_SequentialPerKey(t *testing.T) {
	m := New[string]()

	var inside atomic.Int32
	var maxInside atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Do(context.Background(), "key1", func() error {
				cur := inside.Add(1)
				if cur > maxInside.Load() {
					maxInside.Store(cur)
				}
				time.Sleep(2 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInside.Load() != 1 {
		t.Errorf("expected exclusive access per key, max inside was %d", maxInside.Load())
	}
	if m.Len() != 0 {
		t.Errorf("expected no tracked keys after release, got %d", m.Len())
	}
}

func TestMutex_ParallelAcrossKeys(t *testing.T) {
	m := New[string]()

	var running atomic.Int32
	var maxRunning atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		key := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Do(context.Background(), key, func() error {
				cur := running.Add(1)
				for {
					max := maxRunning.Load()
					if cur <= max || maxRunning.CompareAndSwap(max, cur) {
						break
					}
				}
				time.Sleep(50 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxRunning.Load() < 2 {
		t.Errorf("expected concurrent execution across keys, max running was %d", maxRunning.Load())
	}
}

func TestMutex_ErrorPropagation(t *testing.T) {
	m := New[string]()

	expectedErr := errors.New("task error")
	err := m.Do(context.Background(), "key", func() error {
		return expectedErr
	})
	if err != expectedErr {
		t.Errorf("expected %v, got %v", expectedErr, err)
	}
}

func TestMutex_Lock_Cancelled(t *testing.T) {
	m := New[string]()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Lock(ctx, "key")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMutex_Lock_Timeout(t *testing.T) {
	m := New[string]()

	unlock, err := m.Lock(context.Background(), "key")
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.Lock(ctx, "key")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
	if m.Len() != 1 {
		t.Errorf("expected the waiter to release its slot, got %d keys", m.Len())
	}
}

func TestMutex_TryLock(t *testing.T) {
	m := New[string]()

	unlock, ok := m.TryLock("key")
	if !ok {
		t.Fatal("expected free lock")
	}
	if _, ok := m.TryLock("key"); ok {
		t.Error("expected held lock to be busy")
	}

	unlock()
	unlock() // idempotent

	unlock, ok = m.TryLock("key")
	if !ok {
		t.Fatal("expected lock to be free after unlock")
	}
	unlock()
}
