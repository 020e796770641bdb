// Package metrics holds the backend-neutral timing primitives the engine's
// metrics interfaces are built on.
package metrics

import "time"

// Timer measures the duration of an operation. Call ObserveDuration when the
// operation completes:
//
//	defer m.StoreLoadDuration("account").ObserveDuration()
type Timer interface {
	ObserveDuration()
}

// TimerFunc adapts a function to Timer.
type TimerFunc func()

func (f TimerFunc) ObserveDuration() { f() }

// StartTimer starts a Timer that reports the elapsed time to observe.
func StartTimer(observe func(time.Duration)) Timer {
	start := time.Now()
	return TimerFunc(func() { observe(time.Since(start)) })
}

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

// NopTimer returns a Timer that records nothing.
func NopTimer() Timer { return nopTimer{} }
