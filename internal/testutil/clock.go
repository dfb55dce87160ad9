package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time for FixedClock: a fixed, readable instant
// so golden files and assertions never depend on the wall clock.
var Epoch = time.Date(2026, time.October, 19, 9, 30, 0, 0, time.UTC)

// FixedClock is a manually advanced wall clock for tests.
//
// Unlike the system clock, FixedClock only moves when told to, so the same
// test produces identical timestamps on every run.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a clock reading Epoch.
func NewFixedClock() *FixedClock {
	return &FixedClock{now: Epoch}
}

// NewFixedClockAt creates a clock reading t (converted to UTC).
func NewFixedClockAt(t time.Time) *FixedClock {
	return &FixedClock{now: t.UTC()}
}

// Now returns the current reading without advancing.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new reading.
func (c *FixedClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Reset returns the clock to Epoch.
func (c *FixedClock) Reset() {
	c.Set(Epoch)
}
