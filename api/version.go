package api

import (
	"fmt"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

// Version orders the records written for one intent. Index is a logical
// clock and is the only field used for ordering. Timestamp records the wall
// time the version was issued at and is only used to compute ages.
type Version struct {
	Index     uint64    `json:"index"`
	Timestamp time.Time `json:"timestamp"`
}

// IsZero reports whether v was never issued by a Clock.
func (v Version) IsZero() bool {
	return v.Index == 0
}

// IsNewerThan reports whether v orders after other.
func (v Version) IsNewerThan(other Version) bool {
	return v.Index > other.Index
}

// IsOlderThan reports whether v orders before other.
func (v Version) IsOlderThan(other Version) bool {
	return v.Index < other.Index
}

func (v Version) String() string {
	return fmt.Sprintf("%d", v.Index)
}

// Clock issues strictly increasing versions.
type Clock struct {
	mu    sync.Mutex
	clock clock.Clock
	last  uint64
}

// NewClock returns a Clock that stamps versions with the wall time of clk.
func NewClock(clk clock.Clock) *Clock {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Clock{clock: clk}
}

// Next issues a new version, newer than every version issued or observed
// before.
func (c *Clock) Next() Version {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last++
	return Version{Index: c.last, Timestamp: c.clock.Now()}
}

// Observe advances the clock past v. It is used when records are restored
// from persistent state so that new versions keep winning over old ones.
func (c *Clock) Observe(v Version) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v.Index > c.last {
		c.last = v.Index
	}
}

// Now returns the current wall time of the underlying clock.
func (c *Clock) Now() time.Time {
	return c.clock.Now()
}

// Since returns the wall time elapsed since t.
func (c *Clock) Since(t time.Time) time.Duration {
	return c.clock.Since(t)
}
