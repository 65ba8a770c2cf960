package testutil

import (
	"sync"
	"time"
)

// Clock is a thread-safe fake time source for tests.
//
// Production code takes a `Now func() time.Time` field; tests install
// clock.Now and advance time explicitly, so TTL and expiry behavior is
// exercised without sleeping.
//
// Thread-safety: all methods are safe for concurrent use via an
// internal mutex.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at the given instant.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time. Pass this method as the time
// source of the component under test.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set jumps the clock to a specific instant.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
