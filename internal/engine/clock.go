package engine

import (
	"sync/atomic"
	"time"
)

// Clock stamps created_at / updated_at and status history entries.
// Timestamps are audit data only: no amount or ordering decision reads them.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// StepClock is a deterministic clock for tests and scenario runs. Each
// call to Now advances by Step from Base.
//
// Thread-safety: StepClock is safe for concurrent use (atomic operations).
type StepClock struct {
	Base time.Time
	Step time.Duration
	seq  atomic.Int64
}

// NewStepClock creates a clock whose first reading is base.
func NewStepClock(base time.Time, step time.Duration) *StepClock {
	return &StepClock{Base: base.UTC(), Step: step}
}

// Now returns Base + n*Step for the n-th call, starting at n = 0.
func (c *StepClock) Now() time.Time {
	n := c.seq.Add(1) - 1
	return c.Base.Add(time.Duration(n) * c.Step)
}

// Calls reports how many readings have been taken.
func (c *StepClock) Calls() int64 {
	return c.seq.Load()
}
