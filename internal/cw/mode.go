// internal/cw/mode.go
package cw

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidMode indicates a keying mode that cannot be rendered
var ErrInvalidMode = errors.New("invalid keying mode")

// Mode selects how a message is keyed: Morse at a given dit length, or
// PSK at one of the supported baud rates.
type Mode interface {
	// SamplesPerSymbol is the length of one timeline unit at sampleRate.
	SamplesPerSymbol(sampleRate int) int
	fmt.Stringer
	mode()
}

// Morse keys on/off with the given dit length.
type Morse struct {
	Dit time.Duration
}

func (m Morse) SamplesPerSymbol(sampleRate int) int {
	return int(int64(sampleRate) * m.Dit.Milliseconds() / 1000)
}

func (m Morse) String() string { return fmt.Sprintf("CW %dms", m.Dit.Milliseconds()) }

func (Morse) mode() {}

// PSKRate is a BPSK symbol rate.
type PSKRate int

const (
	PSK31 PSKRate = iota
	PSK63
	PSK125
)

// PSK keys binary phase shift at Rate.
type PSK struct {
	Rate PSKRate
}

func (p PSK) SamplesPerSymbol(sampleRate int) int {
	switch p.Rate {
	case PSK63:
		return sampleRate * 50 / 3125
	case PSK125:
		return sampleRate * 25 / 3125
	default:
		return sampleRate * 100 / 3125
	}
}

func (p PSK) String() string {
	switch p.Rate {
	case PSK63:
		return "PSK63"
	case PSK125:
		return "PSK125"
	default:
		return "PSK31"
	}
}

func (PSK) mode() {}

// ModeFromSelector maps the single integer speed selector used on the
// command line: positive values are a dit length in milliseconds and
// -1, -2, -3 select PSK31, PSK63 and PSK125.
func ModeFromSelector(sel int) (Mode, error) {
	switch {
	case sel > 0:
		return Morse{Dit: time.Duration(sel) * time.Millisecond}, nil
	case sel == -1:
		return PSK{Rate: PSK31}, nil
	case sel == -2:
		return PSK{Rate: PSK63}, nil
	case sel == -3:
		return PSK{Rate: PSK125}, nil
	default:
		return nil, fmt.Errorf("%w: speed selector %d", ErrInvalidMode, sel)
	}
}

// validMode rejects modes that would produce zero-length symbols.
func validMode(m Mode, sampleRate int) error {
	if m == nil {
		return fmt.Errorf("%w: nil", ErrInvalidMode)
	}
	if m.SamplesPerSymbol(sampleRate) <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidMode, m)
	}
	return nil
}
