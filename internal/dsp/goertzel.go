// internal/dsp/goertzel.go
package dsp

import (
	"errors"
	"math"
)

var (
	// ErrInvalidBlockSize indicates block size must be positive
	ErrInvalidBlockSize = errors.New("block size must be positive")
	// ErrInvalidSampleRate indicates sample rate must be positive
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrInvalidFrequency indicates frequency must be positive and below Nyquist
	ErrInvalidFrequency = errors.New("target frequency must be positive and less than Nyquist frequency")
)

// GoertzelConfig holds configuration for one Goertzel bin.
type GoertzelConfig struct {
	// TargetFrequency is the frequency to detect in Hz
	TargetFrequency float64
	// SampleRate is the input sample rate in Hz (from config: input_sample_rate)
	SampleRate float64
	// BlockSize is the number of samples per analysis block (from config: tone_block_size)
	BlockSize int
}

// Goertzel evaluates a single DFT bin, fed one sample at a time from the
// capture path and read out once per block.
//
// The coefficient is 2cos(2πf/fs) using the exact target frequency rather
// than the nearest integer bin, so short blocks still centre on the tone.
type Goertzel struct {
	config      GoertzelConfig
	coefficient float64
	normalizer  float64

	q1, q2 float64
}

// NewGoertzel creates a new Goertzel bin with the given configuration.
func NewGoertzel(cfg GoertzelConfig) (*Goertzel, error) {
	if cfg.BlockSize <= 0 {
		return nil, ErrInvalidBlockSize
	}
	if cfg.SampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	nyquist := cfg.SampleRate / 2.0
	if cfg.TargetFrequency <= 0 || cfg.TargetFrequency >= nyquist {
		return nil, ErrInvalidFrequency
	}

	omega := 2.0 * math.Pi * cfg.TargetFrequency / cfg.SampleRate

	return &Goertzel{
		config:      cfg,
		coefficient: 2.0 * math.Cos(omega),
		normalizer:  2.0 / float64(cfg.BlockSize),
	}, nil
}

// Push feeds one sample into the running filter.
func (g *Goertzel) Push(x float64) {
	q0 := g.coefficient*g.q1 - g.q2 + x
	g.q2 = g.q1
	g.q1 = q0
}

// Power returns the squared magnitude accumulated since the last Reset.
func (g *Goertzel) Power() float64 {
	p := g.q1*g.q1 + g.q2*g.q2 - g.coefficient*g.q1*g.q2
	if p < 0 {
		return 0
	}
	return p
}

// Amplitude returns the bin magnitude scaled so that a full block of a
// sine at the target frequency reads as its peak amplitude.
func (g *Goertzel) Amplitude() float64 {
	return math.Sqrt(g.Power()) * g.normalizer
}

// Reset clears the filter taps.
func (g *Goertzel) Reset() {
	g.q1, g.q2 = 0, 0
}
