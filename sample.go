package main

import (
	"encoding/json"
	"math"
)

// Sample is one position and heading reading. Heading is in degrees, [0, 360).
type Sample struct {
	X, Y, Z float64
	Heading float64
}

// sampleFrame is the wire form of a Sample. Field order fixes key order.
type sampleFrame struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Z   float64 `json:"z"`
	Yaw float64 `json:"yaw"`
}

// newSample builds a Sample from a host position and the host's raw yaw.
func newSample(x, y, z, rawYaw float64) Sample {
	return Sample{X: x, Y: y, Z: z, Heading: headingFromYaw(rawYaw)}
}

// headingFromYaw converts a host yaw (degrees, clockwise, 0 facing +z) into
// the heading clients expect: (180 - yaw) reduced with a floored modulo, so
// the result is always in [0, 360). Non-finite input gives 0.
func headingFromYaw(rawYaw float64) float64 {
	if math.IsNaN(rawYaw) || math.IsInf(rawYaw, 0) {
		return 0
	}
	return floorMod(180.0-rawYaw, 360.0)
}

func floorMod(a, m float64) float64 {
	r := math.Mod(a, m)
	if r < 0 {
		r += m
	}
	// -tiny + 360 rounds to 360; also folds -0 into 0.
	if r >= m || r == 0 {
		return 0
	}
	return r
}

func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal(sampleFrame{X: s.X, Y: s.Y, Z: s.Z, Yaw: s.Heading})
}
