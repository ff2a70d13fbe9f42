package scheduler

import (
	"sync"
	"time"
)

// Clock abstracts time for the scheduler loop
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock
func RealClock() Clock { return realClock{} }

// FakeClock is a manually advanced clock for tests. It serves a single
// sleeper: each After call replaces the pending one, since the loop abandons
// its previous timer whenever it is woken early.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	waiter *fakeWaiter
}

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

// NewFakeClock creates a fake clock set to now
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

// Now returns the fake time
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that fires once the clock is advanced past d
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		c.waiter = nil
		ch <- c.now
		return ch
	}
	c.waiter = &fakeWaiter{at: c.now.Add(d), ch: ch}
	return ch
}

// Advance moves the clock forward and fires the waiter if it expired
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	if c.waiter != nil && !c.waiter.at.After(c.now) {
		c.waiter.ch <- c.now
		c.waiter = nil
	}
}

// Waiters returns the number of pending sleepers, 0 or 1
func (c *FakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiter == nil {
		return 0
	}
	return 1
}
