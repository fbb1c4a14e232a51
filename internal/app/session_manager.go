package app

import (
	"sync/atomic"
)

// SessionCounters tracks live and lifetime WebSocket session counts for the
// /api/status endpoint. All methods are safe for concurrent use.
type SessionCounters struct {
	active atomic.Int64
	total  atomic.Int64
}

// Begin registers a new session and returns a release function to call when
// the session ends. Release is idempotent.
func (c *SessionCounters) Begin() (release func()) {
	c.active.Add(1)
	c.total.Add(1)

	var done atomic.Bool
	return func() {
		if done.CompareAndSwap(false, true) {
			c.active.Add(-1)
		}
	}
}

// Active returns the number of sessions currently connected.
func (c *SessionCounters) Active() int64 { return c.active.Load() }

// Total returns the number of sessions accepted since startup.
func (c *SessionCounters) Total() int64 { return c.total.Load() }
