package main

import "sync/atomic"

// stateCell holds the latest Sample. The writer and any number of readers may
// run concurrently; a reader never sees fields from two different writes.
type stateCell struct {
	latest atomic.Pointer[Sample]
}

func newStateCell() *stateCell {
	return &stateCell{}
}

// Set replaces the current sample.
func (c *stateCell) Set(s Sample) {
	c.latest.Store(&s)
}

// Get returns the most recent sample, or the zero Sample before the first Set.
func (c *stateCell) Get() Sample {
	if p := c.latest.Load(); p != nil {
		return *p
	}
	return Sample{}
}
