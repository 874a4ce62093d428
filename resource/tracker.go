// Package resource enforces memory and step/time budgets for a single run.
// Trackers are consulted on every allocation and every executed instruction;
// their counters travel with run snapshots so a resumed run keeps counting
// where it left off.
package resource

import (
	"fmt"
	"time"
)

// Dimension identifies which budget was exhausted.
type Dimension string

const (
	DimMemory Dimension = "memory"
	DimSteps  Dimension = "steps"
	DimTime   Dimension = "time"
)

// LimitError is terminal for a run: it is never catchable by program-level
// handlers and stops execution immediately.
type LimitError struct {
	Dim Dimension
	Msg string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s limit exceeded: %s", e.Dim, e.Msg)
}

// Counters is the serializable accounting state of a tracker.
type Counters struct {
	Steps     int64
	HeapBytes int64
	Elapsed   time.Duration
}

// Limits are the configured ceilings. Zero means unlimited for that
// dimension.
type Limits struct {
	MaxSteps     int64
	MaxHeapBytes int64
	MaxDuration  time.Duration
}

// Tracker is the policy object consulted by the heap and the engine.
type Tracker interface {
	// ChargeStep accounts one executed instruction.
	ChargeStep() error
	// ChargeMemory accounts an allocation of the given size.
	ChargeMemory(bytes int64) error
	// ReleaseMemory returns reclaimed bytes to the budget.
	ReleaseMemory(bytes int64)
	// Counters reports current accounting state, folding in wall time.
	Counters() Counters
	// Limits reports the configured ceilings (zero value for no limits).
	Limits() Limits
}

// NoLimitTracker counts but never fails. Counting is kept so snapshots of
// unlimited runs still carry exact accounting state.
type NoLimitTracker struct {
	counters Counters
	started  time.Time
}

func NewNoLimit() *NoLimitTracker {
	return &NoLimitTracker{started: time.Now()}
}

func (t *NoLimitTracker) ChargeStep() error {
	t.counters.Steps++
	return nil
}

func (t *NoLimitTracker) ChargeMemory(bytes int64) error {
	t.counters.HeapBytes += bytes
	return nil
}

func (t *NoLimitTracker) ReleaseMemory(bytes int64) {
	t.counters.HeapBytes -= bytes
}

func (t *NoLimitTracker) Counters() Counters {
	c := t.counters
	c.Elapsed += time.Since(t.started)
	return c
}

func (t *NoLimitTracker) Limits() Limits { return Limits{} }

// timeCheckBatch bounds how often the wall clock is read.
const timeCheckBatch = 1024

// LimitedTracker enforces configured ceilings. Once any dimension fails the
// tracker latches: all further charges return the same error and counters
// stop moving.
type LimitedTracker struct {
	limits   Limits
	counters Counters
	started  time.Time
	failed   *LimitError
}

func NewLimited(limits Limits) *LimitedTracker {
	return &LimitedTracker{limits: limits, started: time.Now()}
}

// ResumeLimited reconstructs a tracker from snapshotted counters. Pass zero
// Counters to reset accounting at a process boundary instead of carrying it.
func ResumeLimited(limits Limits, counters Counters) *LimitedTracker {
	return &LimitedTracker{limits: limits, counters: counters, started: time.Now()}
}

func (t *LimitedTracker) ChargeStep() error {
	if t.failed != nil {
		return t.failed
	}
	t.counters.Steps++
	if t.limits.MaxSteps > 0 && t.counters.Steps > t.limits.MaxSteps {
		return t.fail(DimSteps, fmt.Sprintf("executed %d instructions", t.counters.Steps))
	}
	if t.limits.MaxDuration > 0 && t.counters.Steps%timeCheckBatch == 0 {
		if el := t.elapsed(); el > t.limits.MaxDuration {
			return t.fail(DimTime, fmt.Sprintf("ran for %s of allowed %s", el, t.limits.MaxDuration))
		}
	}
	return nil
}

func (t *LimitedTracker) ChargeMemory(bytes int64) error {
	if t.failed != nil {
		return t.failed
	}
	if t.limits.MaxHeapBytes > 0 && t.counters.HeapBytes+bytes > t.limits.MaxHeapBytes {
		return t.fail(DimMemory, fmt.Sprintf("%d bytes live, allocation of %d refused", t.counters.HeapBytes, bytes))
	}
	t.counters.HeapBytes += bytes
	return nil
}

func (t *LimitedTracker) ReleaseMemory(bytes int64) {
	if t.failed != nil {
		return
	}
	t.counters.HeapBytes -= bytes
}

func (t *LimitedTracker) Counters() Counters {
	c := t.counters
	c.Elapsed = t.elapsed()
	return c
}

func (t *LimitedTracker) Limits() Limits { return t.limits }

func (t *LimitedTracker) elapsed() time.Duration {
	return t.counters.Elapsed + time.Since(t.started)
}

func (t *LimitedTracker) fail(dim Dimension, msg string) error {
	t.failed = &LimitError{Dim: dim, Msg: msg}
	return t.failed
}
