package planner

import "time"

// Clock is polled for deadlines. Tests substitute a StepClock.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// StepClock advances by Step on every Now call. A search given a budget of
// N steps stops on its N-th deadline poll.
type StepClock struct {
	t    time.Time
	Step time.Duration
}

func NewStepClock(step time.Duration) *StepClock {
	return &StepClock{t: time.Unix(0, 0), Step: step}
}

func (c *StepClock) Now() time.Time {
	c.t = c.t.Add(c.Step)
	return c.t
}
