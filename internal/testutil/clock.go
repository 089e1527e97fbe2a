package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant returned by a fresh StepClock.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// StepClock is a thread-safe deterministic clock for tests.
//
// Each call to Now advances the clock by Step and returns the new instant,
// so timestamps are strictly increasing unless Freeze is called. Freeze makes
// every call return the same instant, which is how tests force created_at
// collisions.
type StepClock struct {
	mu     sync.Mutex
	now    time.Time
	step   time.Duration
	frozen bool
}

// NewStepClock creates a clock starting at Epoch that advances one
// millisecond per call. The first call to Now returns Epoch + 1ms.
func NewStepClock() *StepClock {
	return &StepClock{now: Epoch, step: time.Millisecond}
}

// Now advances the clock (unless frozen) and returns the current instant.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.frozen {
		c.now = c.now.Add(c.step)
	}
	return c.now
}

// Current returns the current instant without advancing.
func (c *StepClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t. The next Now returns t + step unless frozen.
func (c *StepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Freeze stops the clock at its current instant.
func (c *StepClock) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

// Reset returns the clock to Epoch and unfreezes it.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = Epoch
	c.frozen = false
}
