package core

import "sync/atomic"

// versionClock stamps core mutations with strictly increasing versions.
// Notifications carry the version of the state they report so an observer
// never sees a state older than one it already received.
type versionClock struct {
	seq atomic.Int64
}

// Next returns the next version.
func (c *versionClock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last version handed out.
func (c *versionClock) Current() int64 {
	return c.seq.Load()
}
