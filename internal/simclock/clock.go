// Package simclock holds the single monotonic virtual-time source the
// replay loop drives. It never reads the wall clock: the only way Now
// advances is through AdvanceTo, called once per popped event by the
// orchestrator (spec.md §4.1, §4.13).
package simclock

import (
	"fmt"

	"clobbacktest/pkg/types"
)

// Clock holds one Nanos value. It is owned exclusively by the orchestrator;
// every other component reads it through a narrow accessor.
type Clock struct {
	now types.Nanos
}

// New creates a clock starting at the given instant (typically the
// configured start_time, or 0).
func New(start types.Nanos) *Clock {
	return &Clock{now: start}
}

// Now returns the current virtual time.
func (c *Clock) Now() types.Nanos { return c.now }

// AdvanceTo moves the clock forward to t. It fails if t is strictly before
// the current reading — time on the replay timeline never runs backwards.
func (c *Clock) AdvanceTo(t types.Nanos) error {
	if t < c.now {
		return fmt.Errorf("simclock: advance_to(%d) precedes current time %d", t, c.now)
	}
	c.now = t
	return nil
}

// Reset rewinds the clock to start. The orchestrator builds a fresh Clock
// for every session, TrustGate probe replays included, and does not call it.
func (c *Clock) Reset(start types.Nanos) {
	c.now = start
}
