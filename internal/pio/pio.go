// internal/pio/pio.go
package pio

import (
	"errors"
	"sync"
)

// ErrClosed indicates I/O on released lines
var ErrClosed = errors.New("pio lines closed")

// Sensors is one sample of the station inputs.
type Sensors struct {
	Squelch     bool
	DiscrimUp   bool
	DiscrimDown bool
	// QRP is the external low power request
	QRP bool
	// WindGeneratorOK is false while the wind generator is folded away
	WindGeneratorOK bool
	// Button1750 is the hardware 1750 Hz line, active while the tone
	// filter or the operator key opens the repeater
	Button1750 bool
	// Button is the raw front-panel beacon button, debounce before use
	Button bool
}

// Controls is the state of the station outputs.
type Controls struct {
	TX     bool
	ModOff bool
	QRP    bool
	// Fax disables the hardware 1750 Hz filter during slow-scan
	Fax     bool
	Det1750 bool
}

// Source reads the station inputs.
type Source interface {
	Read() (Sensors, error)
}

// Actuators drives the station outputs.
type Actuators interface {
	Write(c Controls) error
}

// Static is a Source and Actuators without hardware. Inputs are set by
// the caller and the last written Controls are kept.
type Static struct {
	mu       sync.Mutex
	sensors  Sensors
	controls Controls
	writes   int
}

// NewStatic returns a station with the wind generator deployed and
// everything else quiet.
func NewStatic() *Static {
	return &Static{sensors: Sensors{WindGeneratorOK: true}}
}

// Set replaces the inputs returned by Read.
func (s *Static) Set(in Sensors) {
	s.mu.Lock()
	s.sensors = in
	s.mu.Unlock()
}

// Update changes the inputs in place.
func (s *Static) Update(fn func(*Sensors)) {
	s.mu.Lock()
	fn(&s.sensors)
	s.mu.Unlock()
}

func (s *Static) Read() (Sensors, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sensors, nil
}

func (s *Static) Write(c Controls) error {
	s.mu.Lock()
	s.controls = c
	s.writes++
	s.mu.Unlock()
	return nil
}

// Controls returns the last written outputs.
func (s *Static) Controls() Controls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controls
}

// Writes counts Write calls.
func (s *Static) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
