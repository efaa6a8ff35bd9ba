// internal/pio/debounce.go
package pio

// DefaultDebounce is the number of agreeing samples for the front-panel
// button at a 10 ms poll.
const DefaultDebounce = 10

// Debouncer is a saturating up/down counter. The output goes high when
// the counter reaches the threshold and low when it drains to zero; in
// between it holds.
type Debouncer struct {
	threshold int
	count     int
	state     bool
}

// NewDebouncer returns a debouncer; a threshold below 1 is treated as 1.
func NewDebouncer(threshold int) *Debouncer {
	if threshold < 1 {
		threshold = 1
	}
	return &Debouncer{threshold: threshold}
}

// Update feeds one raw sample and returns the debounced level.
func (d *Debouncer) Update(raw bool) bool {
	if raw {
		if d.count < d.threshold {
			d.count++
		}
	} else if d.count > 0 {
		d.count--
	}

	switch d.count {
	case d.threshold:
		d.state = true
	case 0:
		d.state = false
	}
	return d.state
}

// State returns the debounced level without sampling.
func (d *Debouncer) State() bool {
	return d.state
}
