package es

import "time"

// DefaultSnapshotStep is the version distance of the default StepTrigger.
const DefaultSnapshotStep = 10

// SnapshotTrigger decides after a write whether a new snapshot is due.
// previous is nil when the aggregate has no snapshot yet.
type SnapshotTrigger interface {
	MustBeCreated(agg Aggregate, previous *Snapshot) bool
}

// TriggerFunc adapts a function to SnapshotTrigger.
type TriggerFunc func(agg Aggregate, previous *Snapshot) bool

func (f TriggerFunc) MustBeCreated(agg Aggregate, previous *Snapshot) bool { return f(agg, previous) }

// StepTrigger fires when there is no previous snapshot or when the aggregate
// moved at least Step versions past it.
type StepTrigger struct {
	Step Version
}

func NewStepTrigger(step Version) StepTrigger {
	if step == 0 {
		step = DefaultSnapshotStep
	}
	return StepTrigger{Step: step}
}

func (t StepTrigger) MustBeCreated(agg Aggregate, previous *Snapshot) bool {
	if previous == nil {
		return true
	}
	return agg.Version() >= previous.Version+t.Step
}

// IntervalTrigger fires when the previous snapshot is older than Interval.
type IntervalTrigger struct {
	Interval time.Duration
	now      func() time.Time
}

func NewIntervalTrigger(interval time.Duration) IntervalTrigger {
	return IntervalTrigger{Interval: interval, now: time.Now}
}

func (t IntervalTrigger) MustBeCreated(agg Aggregate, previous *Snapshot) bool {
	if previous == nil {
		return agg.Version() > 0
	}
	if previous.Version >= agg.Version() {
		return false
	}
	now := time.Now
	if t.now != nil {
		now = t.now
	}
	return now().Sub(previous.CreatedAt) >= t.Interval
}

// NeverTrigger disables snapshotting.
var NeverTrigger = TriggerFunc(func(Aggregate, *Snapshot) bool { return false })
