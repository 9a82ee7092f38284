package main

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
)

// clearance keeps random targets off the walls of the walking box.
const clearance = 0.1

type vec3 struct {
	x, y, z float64
}

func (a vec3) add(b vec3) vec3 { return vec3{a.x + b.x, a.y + b.y, a.z + b.z} }

func (a vec3) sub(b vec3) vec3 { return vec3{a.x - b.x, a.y - b.y, a.z - b.z} }

func (a vec3) scale(k float64) vec3 { return vec3{a.x * k, a.y * k, a.z * k} }

func (a vec3) length() float64 { return math.Sqrt(a.x*a.x + a.y*a.y + a.z*a.z) }

func (a vec3) within(lo, hi vec3) bool {
	return a.x >= lo.x && a.x <= hi.x && a.y >= lo.y && a.y <= hi.y && a.z >= lo.z && a.z <= hi.z
}

// simulator stands in for the host simulation loop. It walks in straight
// lines at a fixed speed inside a box, picking a new random target whenever
// the next step would leave the box, and stores the result in the cell once
// per tick.
type simulator struct {
	cell  *stateCell
	clock clockwork.Clock
	tick  time.Duration
	rnd   *rand.Rand

	speed  float64 // units per second
	lo, hi vec3    // walking bounds
	pos    vec3
	dir    vec3 // unit vector
	yaw    float64
}

// newSimulator walks a 20x0x20 box around the origin at 2.6 units/s. A nil
// rnd gets a randomly seeded source.
func newSimulator(cell *stateCell, clock clockwork.Clock, tick time.Duration, rnd *rand.Rand) *simulator {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	s := &simulator{
		cell:  cell,
		clock: clock,
		tick:  tick,
		rnd:   rnd,
		speed: 2.6,
		lo:    vec3{-10, 64, -10},
		hi:    vec3{10, 64, 10},
		pos:   vec3{0, 64, 0},
	}
	s.turn()
	return s
}

func (s *simulator) run(ctx context.Context) {
	t := s.clock.NewTicker(s.tick)
	defer t.Stop()
	last := s.clock.Now()
	s.cell.Set(s.sample())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.Chan():
			s.step(now.Sub(last))
			last = now
			s.cell.Set(s.sample())
		}
	}
}

// step advances the walker by elapsed time. Ticks are not assumed uniform.
func (s *simulator) step(elapsed time.Duration) {
	next := s.pos.add(s.dir.scale(s.speed * elapsed.Seconds()))
	if next.within(s.lo.sub(vec3{clearance, clearance, clearance}), s.hi.add(vec3{clearance, clearance, clearance})) {
		s.pos = s.clamp(next)
		return
	}
	s.turn()
}

// turn faces a random point inside the box, shaved by clearance.
func (s *simulator) turn() {
	for {
		to := vec3{
			s.target(s.lo.x, s.hi.x),
			s.target(s.lo.y, s.hi.y),
			s.target(s.lo.z, s.hi.z),
		}
		d := to.sub(s.pos)
		if n := d.length(); n > 1e-9 {
			s.dir = d.scale(1 / n)
			break
		}
	}
	s.yaw = yawOf(s.dir)
}

// yawOf is the host yaw for a facing, in degrees from +z.
func yawOf(dir vec3) float64 {
	return math.Atan2(-dir.x, dir.z) * 180 / math.Pi
}

func (s *simulator) clamp(p vec3) vec3 {
	return vec3{
		math.Min(math.Max(p.x, s.lo.x), s.hi.x),
		math.Min(math.Max(p.y, s.lo.y), s.hi.y),
		math.Min(math.Max(p.z, s.lo.z), s.hi.z),
	}
}

func (s *simulator) sample() Sample {
	return newSample(s.pos.x, s.pos.y, s.pos.z, s.yaw)
}

// target picks a coordinate in [lo+clearance, hi-clearance]. An axis
// narrower than that collapses to its bounds.
func (s *simulator) target(lo, hi float64) float64 {
	return between(s.rnd, math.Min(hi, lo+clearance), math.Max(lo, hi-clearance))
}

// between returns a uniform value in [lo, hi]; lo when the range is empty.
func between(r *rand.Rand, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + r.Float64()*(hi-lo)
}
