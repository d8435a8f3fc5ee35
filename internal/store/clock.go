package store

import "sync/atomic"

// Clock is the monotonic logical clock that stamps every mutation.
//
// The value is persisted in meta.seq by the transaction that advanced it, so
// a reopened store resumes where the last committed write left off. A rolled
// back transaction leaves a gap; values are strictly increasing, not dense.
type Clock struct {
	seq atomic.Int64
}

// NewClockAt creates a clock whose next value is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
