package es

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func counterAt(t *testing.T, v Version) *counter {
	c := newCounter(t, "c1")
	for c.Version() < v {
		require.NoError(t, c.Raise(&added{N: 1}))
	}
	return c
}

func TestStepTrigger(t *testing.T) {
	trig := NewStepTrigger(0)
	require.Equal(t, Version(DefaultSnapshotStep), trig.Step)

	require.True(t, trig.MustBeCreated(counterAt(t, 1), nil))
	require.False(t, trig.MustBeCreated(counterAt(t, 10), &Snapshot{Version: 1}))
	require.True(t, trig.MustBeCreated(counterAt(t, 11), &Snapshot{Version: 1}))
	require.True(t, trig.MustBeCreated(counterAt(t, 25), &Snapshot{Version: 11}))
}

func TestIntervalTrigger(t *testing.T) {
	now := time.Now()
	trig := IntervalTrigger{Interval: time.Minute, now: func() time.Time { return now }}

	agg := counterAt(t, 3)
	require.True(t, trig.MustBeCreated(agg, nil))
	require.False(t, trig.MustBeCreated(agg, &Snapshot{Version: 2, CreatedAt: now.Add(-30 * time.Second)}))
	require.True(t, trig.MustBeCreated(agg, &Snapshot{Version: 2, CreatedAt: now.Add(-2 * time.Minute)}))
	require.False(t, trig.MustBeCreated(agg, &Snapshot{Version: 3, CreatedAt: now.Add(-2 * time.Minute)}))
}

func TestTriggerFunc(t *testing.T) {
	even := TriggerFunc(func(agg Aggregate, _ *Snapshot) bool { return agg.Version()%2 == 0 })
	require.True(t, even.MustBeCreated(counterAt(t, 2), nil))
	require.False(t, even.MustBeCreated(counterAt(t, 3), nil))
	require.False(t, NeverTrigger.MustBeCreated(counterAt(t, 3), nil))
}
