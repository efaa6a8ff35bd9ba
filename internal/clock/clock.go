// internal/clock/clock.go
// Package clock provides the millisecond time base used by the repeater
// state machines, plus wall-time helpers for the beacon schedule.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock is a monotonic millisecond counter starting near zero at boot.
type Clock interface {
	NowMs() uint64
}

// System is a Clock backed by the Go monotonic clock.
type System struct {
	start time.Time
}

// NewSystem returns a Clock whose zero is the moment of the call.
func NewSystem() *System {
	return &System{start: time.Now()}
}

// NowMs returns milliseconds elapsed since NewSystem.
func (s *System) NowMs() uint64 {
	return uint64(time.Since(s.start).Milliseconds())
}

// Manual is a Clock advanced explicitly. Used by tests and the simulator.
type Manual struct {
	ms atomic.Uint64
}

// NewManual returns a Manual clock set to startMs.
func NewManual(startMs uint64) *Manual {
	m := &Manual{}
	m.ms.Store(startMs)
	return m
}

func (m *Manual) NowMs() uint64 {
	return m.ms.Load()
}

// Set moves the clock to ms.
func (m *Manual) Set(ms uint64) {
	m.ms.Store(ms)
}

// Advance moves the clock forward by d and returns the new reading.
func (m *Manual) Advance(d time.Duration) uint64 {
	return m.ms.Add(uint64(d.Milliseconds()))
}

// TimeSource reports the current UTC time and whether it is trustworthy
// (e.g. a GNSS fix or a synchronised system clock).
type TimeSource interface {
	UTC() (time.Time, bool)
}

// SystemTime trusts the host clock.
type SystemTime struct{}

func (SystemTime) UTC() (time.Time, bool) {
	return time.Now().UTC(), true
}

// TimeKeeper converts a TimeSource into local time. When the source loses
// validity it keeps counting from the last valid reading using the
// monotonic clock.
type TimeKeeper struct {
	src   TimeSource
	clk   Clock
	loc   *time.Location
	mu    sync.Mutex
	last  time.Time
	lastM uint64
	valid bool
}

// NewTimeKeeper returns a TimeKeeper reporting in loc. A nil loc means UTC.
func NewTimeKeeper(src TimeSource, clk Clock, loc *time.Location) *TimeKeeper {
	if loc == nil {
		loc = time.UTC
	}
	return &TimeKeeper{src: src, clk: clk, loc: loc}
}

// Local returns the local time. The boolean is false when no valid time
// was ever seen; derived readings after a loss of validity report true.
func (k *TimeKeeper) Local() (time.Time, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.clk.NowMs()
	if t, ok := k.src.UTC(); ok {
		k.last, k.lastM, k.valid = t, now, true
		return t.In(k.loc), true
	}
	if !k.valid {
		return time.Time{}, false
	}
	elapsed := time.Duration(now-k.lastM) * time.Millisecond
	return k.last.Add(elapsed).In(k.loc), true
}
