// internal/dsp/nco.go
package dsp

import "math"

// NCO is a numerically controlled oscillator. The phase accumulator is
// kept within [-π, π] so it never loses precision on long transmissions.
type NCO struct {
	sampleRate float64
	omega      float64
	phase      float64
}

// NewNCO returns an oscillator at freq Hz for the given sample rate.
func NewNCO(freq, sampleRate float64) *NCO {
	n := &NCO{sampleRate: sampleRate}
	n.SetFrequency(freq)
	return n
}

// SetFrequency retunes without a phase jump.
func (n *NCO) SetFrequency(freq float64) {
	n.omega = 2 * math.Pi * freq / n.sampleRate
}

// Next advances one sample and returns sin(phase).
func (n *NCO) Next() float64 {
	n.phase += n.omega
	if n.phase > math.Pi {
		n.phase -= 2 * math.Pi
	}
	return math.Sin(n.phase)
}

// Phase returns the current accumulator value.
func (n *NCO) Phase() float64 {
	return n.phase
}

// Reset sets the phase back to zero.
func (n *NCO) Reset() {
	n.phase = 0
}
