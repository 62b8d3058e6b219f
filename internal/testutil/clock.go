package testutil

import "sync"

// StepClock numbers harness trace events. The first call to Next returns 1.
//
// Thread-safety: All methods are safe for concurrent use.
type StepClock struct {
	mu  sync.Mutex
	seq int64
}

// Next advances the clock and returns the new step number.
func (c *StepClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the last step number handed out.
func (c *StepClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}
