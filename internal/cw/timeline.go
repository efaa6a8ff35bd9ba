// internal/cw/timeline.go
package cw

import (
	"errors"
	"fmt"
)

// ErrTimelineFull indicates a message does not fit the symbol timeline
var ErrTimelineFull = errors.New("symbol timeline full")

// Timeline is a bounded sequence of symbol units. For Morse a unit is
// key-down (true) or key-up (false); for PSK it is a phase bit where false
// means a phase reversal.
type Timeline struct {
	units []bool
	limit int
}

// NewTimeline returns an empty timeline that holds at most limit units.
func NewTimeline(limit int) *Timeline {
	return &Timeline{units: make([]bool, 0, min(limit, 1024)), limit: limit}
}

// Append adds units, failing without modification when they do not fit.
func (t *Timeline) Append(units ...bool) error {
	if len(t.units)+len(units) > t.limit {
		return fmt.Errorf("%w: %d + %d > %d", ErrTimelineFull, len(t.units), len(units), t.limit)
	}
	t.units = append(t.units, units...)
	return nil
}

// repeat appends n copies of v.
func (t *Timeline) repeat(v bool, n int) error {
	if len(t.units)+n > t.limit {
		return fmt.Errorf("%w: %d + %d > %d", ErrTimelineFull, len(t.units), n, t.limit)
	}
	for i := 0; i < n; i++ {
		t.units = append(t.units, v)
	}
	return nil
}

// Units returns the timeline contents. The slice must not be modified.
func (t *Timeline) Units() []bool {
	return t.units
}

// Len returns the number of units.
func (t *Timeline) Len() int {
	return len(t.units)
}
