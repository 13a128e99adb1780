// Package timing holds the server-authoritative clock and per-question response timer.
package timing

import (
	"sync/atomic"

	"github.com/jonboulle/clockwork"
)

// ServerClock is a local clock corrected by a single server-minus-local offset.
// Each Sync overwrites the offset; there is no smoothing.
type ServerClock struct {
	local  clockwork.Clock
	offset atomic.Int64
}

func NewServerClock(local clockwork.Clock) *ServerClock {
	if local == nil {
		local = clockwork.NewRealClock()
	}
	return &ServerClock{local: local}
}

// Sync records the offset between serverTimeMillis and the local clock.
func (c *ServerClock) Sync(serverTimeMillis int64) {
	c.offset.Store(serverTimeMillis - c.local.Now().UnixMilli())
}

// Offset returns the current server-minus-local skew in milliseconds.
func (c *ServerClock) Offset() int64 {
	return c.offset.Load()
}

// Now returns server time in milliseconds.
func (c *ServerClock) Now() int64 {
	return c.local.Now().UnixMilli() + c.offset.Load()
}

// Local exposes the underlying clock for scheduling.
func (c *ServerClock) Local() clockwork.Clock {
	return c.local
}
