package exec

import "sync/atomic"

// Clock is a monotonic logical clock. Every trace event is stamped with
// sequence numbers from it, so trace ordering never depends on wall-clock
// readings racing each other across workers.
//
// Safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number. Each call returns a unique,
// strictly increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the latest issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
