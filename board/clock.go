package board

import (
	"sync"
	"time"
)

// VirtualClock is a firmware.Timer whose time only moves when the
// firmware sleeps or a test advances it.
type VirtualClock struct {
	mu  sync.Mutex
	now uint64
}

// NowMicros returns the virtual time.
func (c *VirtualClock) NowMicros() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// SleepMicros advances the virtual time.
func (c *VirtualClock) SleepMicros(us uint32) {
	c.Advance(time.Duration(us) * time.Microsecond)
}

// Advance moves the virtual time forward by d.
func (c *VirtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += uint64(d / time.Microsecond)
	c.mu.Unlock()
}

// minSleepUs is the shortest hold RealClock actually sleeps for.
const minSleepUs = 1000

// RealClock is a firmware.Timer on the host's monotonic clock. Holds
// shorter than a millisecond return immediately: the simulated bus needs
// no edge timing, and the scheduler's period sleep is far longer.
type RealClock struct {
	start time.Time
}

// NewRealClock starts a clock at zero.
func NewRealClock() *RealClock {
	return &RealClock{start: time.Now()}
}

// NowMicros returns the microseconds since the clock started.
func (c *RealClock) NowMicros() uint64 {
	return uint64(time.Since(c.start) / time.Microsecond)
}

// SleepMicros sleeps for holds of at least a millisecond.
func (c *RealClock) SleepMicros(us uint32) {
	if us < minSleepUs {
		return
	}
	time.Sleep(time.Duration(us) * time.Microsecond)
}
