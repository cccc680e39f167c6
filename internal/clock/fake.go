package clock

import (
	"sync"
	"time"
)

// FakeClock is a manually driven Clock for tests. Safe for concurrent
// readers while a test goroutine advances it.
type FakeClock struct {
	mu  sync.RWMutex
	now time.Time
}

var _ Clock = (*FakeClock)(nil)

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance moves the clock forward (or backward, with a negative duration).
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set pins the clock to an absolute instant.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}
