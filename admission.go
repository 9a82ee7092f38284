package main

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// refusal describes why an upgrade request was turned away.
type refusal string

const (
	refusedCapacity refusal = "capacity"
	refusedRate     refusal = "rate"
)

// admission bounds concurrent sessions and, optionally, how fast new ones may
// arrive. Requests over either bound are refused, never queued.
type admission struct {
	current atomic.Int64
	max     int64
	limiter *rate.Limiter // nil when unlimited
}

// newAdmission allows max concurrent sessions. A connectionsPerSecond of 0
// disables the rate limit.
func newAdmission(max int, connectionsPerSecond float64, burst int) *admission {
	a := &admission{max: int64(max)}
	if connectionsPerSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(connectionsPerSecond), burst)
	}
	return a
}

// acquire takes a session slot. On success the caller must release it.
func (a *admission) acquire() (bool, refusal) {
	if a.limiter != nil && !a.limiter.Allow() {
		return false, refusedRate
	}
	for {
		current := a.current.Load()
		if current >= a.max {
			return false, refusedCapacity
		}
		if a.current.CompareAndSwap(current, current+1) {
			return true, ""
		}
	}
}

func (a *admission) release() {
	a.current.Add(-1)
}

func (a *admission) inUse() int64 {
	return a.current.Load()
}
