package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	gometrics "github.com/rcrowley/go-metrics"
)

type metrics struct {
	log io.Writer
	reg gometrics.Registry
}

var m = &metrics{
	log: os.Stderr,
	reg: gometrics.DefaultRegistry,
}

// reportMetrics writes the registry as JSON every tick until ctx is done.
func reportMetrics(ctx context.Context, clock clockwork.Clock, tick time.Duration) {
	m.report(ctx, clock, tick)
}

func finalMetrics() {
	m.writeOnce()
}

func incr(name string, i int64) {
	m.incr(name, i)
}

func decr(name string, i int64) {
	m.decr(name, i)
}

func mark(name string, i int64) {
	m.mark(name, i)
}

func (m metrics) report(ctx context.Context, clock clockwork.Clock, tick time.Duration) {
	t := clock.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			m.writeOnce()
		}
	}
}

func (m metrics) writeOnce() {
	gometrics.WriteJSONOnce(m.reg, m.log)
}

func (m metrics) incr(name string, i int64) {
	gometrics.GetOrRegisterCounter(name, m.reg).Inc(i)
}

func (m metrics) decr(name string, i int64) {
	gometrics.GetOrRegisterCounter(name, m.reg).Dec(i)
}

func (m metrics) mark(name string, i int64) {
	gometrics.GetOrRegisterMeter(name, m.reg).Mark(i)
}

func (m metrics) count(name string) int64 {
	return gometrics.GetOrRegisterCounter(name, m.reg).Count()
}

func (m metrics) marked(name string) int64 {
	return gometrics.GetOrRegisterMeter(name, m.reg).Count()
}
