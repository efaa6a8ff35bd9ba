// internal/clock/parity.go
package clock

import "time"

// FreeRunPeriod is how often the parity flips when no wall time is known.
const FreeRunPeriod = 2 * time.Hour

// HourParity derives the even/odd hour flag that paces the long beacon.
type HourParity struct {
	clk        Clock
	even       bool
	lastToggle uint64
}

// NewHourParity returns a tracker for the free-running fallback.
func NewHourParity(clk Clock) *HourParity {
	return &HourParity{clk: clk, lastToggle: clk.NowMs()}
}

// Update returns whether the current hour is even. With a valid local
// time the hour decides; otherwise the flag toggles every FreeRunPeriod
// so that beacons still go out at a similar cadence.
func (p *HourParity) Update(local time.Time, valid bool) bool {
	now := p.clk.NowMs()
	if valid {
		p.even = local.Hour()%2 == 0
		p.lastToggle = now
		return p.even
	}
	if now-p.lastToggle >= uint64(FreeRunPeriod.Milliseconds()) {
		p.even = !p.even
		p.lastToggle = now
	}
	return p.even
}
