// internal/dsp/detector.go
package dsp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/ColonelBlimp/repeaterctl/internal/clock"
)

var (
	// ErrInvalidThreshold indicates a strength threshold must be positive
	ErrInvalidThreshold = errors.New("threshold must be positive")
	// ErrInvalidHysteresis indicates the 1750 Hz block count must be at least 1
	ErrInvalidHysteresis = errors.New("1750 Hz block count must be at least 1")
	// ErrInvalidGap indicates the DTMF gap must be positive
	ErrInvalidGap = errors.New("dtmf gap must be positive")
	// ErrClockRequired indicates a clock instance is required
	ErrClockRequired = errors.New("clock is required")
)

// Tone indexes the detector bins.
type Tone int

const (
	ToneCol1 Tone = iota
	ToneRow1
	ToneRow7
	ToneRowStar
	Tone1750
	NumTones
)

// ToneFrequencies are the bin centres in Hz.
var ToneFrequencies = [NumTones]float64{1209, 697, 852, 941, 1750}

func (t Tone) String() string {
	if t < 0 || t >= NumTones {
		return fmt.Sprintf("Tone(%d)", int(t))
	}
	return strconv.FormatFloat(ToneFrequencies[t], 'f', -1, 64)
}

// DTMFCode is a decoded keypad symbol. Only the keys needed to arm the
// slow-scan mode are recognised.
type DTMFCode int

const (
	DTMFNone DTMFCode = iota
	DTMF1
	DTMF7
	DTMFStar
)

func (c DTMFCode) String() string {
	switch c {
	case DTMF1:
		return "1"
	case DTMF7:
		return "7"
	case DTMFStar:
		return "*"
	default:
		return "-"
	}
}

// HistoryLen is the number of DTMF codes remembered.
const HistoryLen = 3

// FaxSequence arms the slow-scan mode.
var FaxSequence = [HistoryLen]DTMFCode{DTMF1, DTMF7, DTMFStar}

var dtmfPatterns = map[uint]DTMFCode{
	1<<ToneCol1 | 1<<ToneRow1:    DTMF1,
	1<<ToneCol1 | 1<<ToneRow7:    DTMF7,
	1<<ToneCol1 | 1<<ToneRowStar: DTMFStar,
}

// ToneEventKind classifies detector events.
type ToneEventKind int

const (
	Event1750On ToneEventKind = iota
	Event1750Off
	EventDTMF
)

func (k ToneEventKind) String() string {
	switch k {
	case Event1750On:
		return "1750-on"
	case Event1750Off:
		return "1750-off"
	case EventDTMF:
		return "dtmf"
	default:
		return fmt.Sprintf("ToneEventKind(%d)", int(k))
	}
}

// ToneEvent reports a change in detector state.
type ToneEvent struct {
	Kind ToneEventKind
	// Code is set for EventDTMF; DTMFNone means the gap timer expired
	Code DTMFCode
	AtMs uint64
}

// ToneCallback is called from the analysis goroutine. Must be non-blocking.
type ToneCallback func(event ToneEvent)

// DetectorConfig holds configuration for the tone detector.
// All values should come from the application config file.
type DetectorConfig struct {
	// SampleRate of the input path in Hz (from config: input_sample_rate)
	SampleRate float64
	// BlockSize is the number of samples per analysis block (from config: tone_block_size)
	BlockSize int
	// DTMFThreshold is the normalised strength a DTMF bin must exceed (from config: dtmf_threshold)
	DTMFThreshold int32
	// Threshold1750 is the normalised strength the 1750 Hz bin must exceed (from config: tone_1750_threshold)
	Threshold1750 int32
	// Blocks1750 is the number of blocks above threshold before the tone counts (from config: tone_1750_blocks)
	Blocks1750 int
	// DTMFGap clears the code history after this long without a valid code (from config: dtmf_gap_ms)
	DTMFGap time.Duration
	// Sustain1750 is the duration of a long tone (from config: tone_1750_sustain_ms)
	Sustain1750 time.Duration
}

type blockAmplitudes [NumTones]float64

// ToneDetector runs a bank of Goertzel bins over the capture stream.
//
// The sampling side (PushSample/Process) is owned by the capture goroutine.
// Each completed block is handed to the analysis side through a small
// channel; when the analysis side falls behind, blocks are dropped and
// counted. The analysis side normalises bin magnitudes against their mean,
// smooths them, and derives the 1750 Hz and DTMF state read by the control
// loop.
type ToneDetector struct {
	config DetectorConfig
	clk    clock.Clock
	bins   [NumTones]*Goertzel

	// sampling side
	count    int
	accum    float64
	mean     float64
	haveMean bool

	enabled      atomic.Bool
	resetPending atomic.Bool
	results      chan blockAmplitudes
	lost         atomic.Uint64

	// analysis side
	mu         sync.RWMutex
	strengths  [NumTones]int32
	count1750  int
	since1750  uint64
	lastCode   DTMFCode
	lastSeenAt uint64
	history    [HistoryLen]DTMFCode

	callbackPtr atomic.Pointer[ToneCallback]
}

// NewToneDetector creates a detector. It starts disabled.
func NewToneDetector(cfg DetectorConfig, clk clock.Clock) (*ToneDetector, error) {
	if clk == nil {
		return nil, ErrClockRequired
	}
	if cfg.DTMFThreshold <= 0 || cfg.Threshold1750 <= 0 {
		return nil, ErrInvalidThreshold
	}
	if cfg.Blocks1750 < 1 {
		return nil, ErrInvalidHysteresis
	}
	if cfg.DTMFGap <= 0 {
		return nil, ErrInvalidGap
	}

	d := &ToneDetector{
		config:  cfg,
		clk:     clk,
		results: make(chan blockAmplitudes, 2),
	}
	for i, f := range ToneFrequencies {
		g, err := NewGoertzel(GoertzelConfig{
			TargetFrequency: f,
			SampleRate:      cfg.SampleRate,
			BlockSize:       cfg.BlockSize,
		})
		if err != nil {
			return nil, err
		}
		d.bins[i] = g
	}
	return d, nil
}

// SetCallback sets the callback for detector events.
func (d *ToneDetector) SetCallback(cb ToneCallback) {
	if cb == nil {
		d.callbackPtr.Store(nil)
	} else {
		d.callbackPtr.Store(&cb)
	}
}

func (d *ToneDetector) emit(ev ToneEvent) {
	if cb := d.callbackPtr.Load(); cb != nil {
		(*cb)(ev)
	}
}

// Enable gates the detector. Switching it on clears the accumulators so
// that stale energy from before the squelch opened is not counted.
func (d *ToneDetector) Enable(on bool) {
	if d.enabled.Load() == on {
		return
	}
	if on {
		d.resetPending.Store(true)
	drain:
		for {
			select {
			case <-d.results:
			default:
				break drain
			}
		}
		d.mu.Lock()
		d.strengths = [NumTones]int32{}
		d.count1750 = 0
		d.mu.Unlock()
	}
	d.enabled.Store(on)
}

// Process feeds a slice of capture samples.
func (d *ToneDetector) Process(samples []float32) {
	for _, s := range samples {
		d.PushSample(s)
	}
}

// PushSample feeds one capture sample.
func (d *ToneDetector) PushSample(s float32) {
	if d.resetPending.CompareAndSwap(true, false) {
		for _, b := range d.bins {
			b.Reset()
		}
		d.count, d.accum, d.mean, d.haveMean = 0, 0, 0, false
	}
	if !d.enabled.Load() {
		return
	}

	x := float64(s)
	if d.haveMean {
		for _, b := range d.bins {
			b.Push(x - d.mean)
		}
	}
	d.accum += x
	d.count++
	if d.count < d.config.BlockSize {
		return
	}

	if d.haveMean {
		var r blockAmplitudes
		for i, b := range d.bins {
			r[i] = b.Amplitude()
			b.Reset()
		}
		select {
		case d.results <- r:
		default:
			d.lost.Add(1)
		}
	}
	d.mean = d.accum / float64(d.config.BlockSize)
	d.haveMean = true
	d.accum, d.count = 0, 0
}

// Lost returns how many blocks were dropped because analysis fell behind.
func (d *ToneDetector) Lost() uint64 {
	return d.lost.Load()
}

// AnalyseNext waits for one block result and folds it into the state.
func (d *ToneDetector) AnalyseNext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-d.results:
		d.analyse(r)
		return nil
	}
}

// Run analyses blocks until ctx is cancelled.
func (d *ToneDetector) Run(ctx context.Context) error {
	for {
		if err := d.AnalyseNext(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func (d *ToneDetector) analyse(r blockAmplitudes) {
	m := [NumTones]float64(r)
	sum := floats.Sum(m[:])
	if sum == 0 {
		// no energy at all: keep the previous values
		return
	}
	invMean := float64(NumTones) / sum
	now := d.clk.NowMs()

	var events []ToneEvent

	d.mu.Lock()
	for i := range d.strengths {
		d.strengths[i] = (11*d.strengths[i] + int32(5*100*m[i]*invMean)) >> 4
	}

	wasOn := d.count1750 >= d.config.Blocks1750
	if d.strengths[Tone1750] > d.config.Threshold1750 {
		if d.count1750 < d.config.Blocks1750 {
			d.count1750++
			if d.count1750 == d.config.Blocks1750 {
				d.since1750 = now
			}
		}
	} else if d.count1750 > 0 {
		d.count1750--
	}
	if isOn := d.count1750 >= d.config.Blocks1750; isOn != wasOn {
		kind := Event1750Off
		if isOn {
			kind = Event1750On
		}
		events = append(events, ToneEvent{Kind: kind, AtMs: now})
	}

	var pattern uint
	for t := ToneCol1; t <= ToneRowStar; t++ {
		if d.strengths[t] > d.config.DTMFThreshold {
			pattern |= 1 << t
		}
	}
	if code, ok := dtmfPatterns[pattern]; ok {
		if code != d.lastCode {
			d.pushCode(code)
			events = append(events, ToneEvent{Kind: EventDTMF, Code: code, AtMs: now})
		}
		d.lastSeenAt = now
	} else if d.lastCode != DTMFNone && d.lastSeenAt+uint64(d.config.DTMFGap.Milliseconds()) < now {
		d.pushCode(DTMFNone)
		events = append(events, ToneEvent{Kind: EventDTMF, Code: DTMFNone, AtMs: now})
	}
	d.mu.Unlock()

	for _, ev := range events {
		d.emit(ev)
	}
}

// pushCode must be called with mu held.
func (d *ToneDetector) pushCode(code DTMFCode) {
	copy(d.history[:], d.history[1:])
	d.history[HistoryLen-1] = code
	d.lastCode = code
}

// Tone1750 reports whether the 1750 Hz tone is present.
func (d *ToneDetector) Tone1750() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.count1750 >= d.config.Blocks1750
}

// Tone1750Sustained reports whether the 1750 Hz tone has been present for
// longer than the configured sustain time.
func (d *ToneDetector) Tone1750Sustained() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.count1750 < d.config.Blocks1750 {
		return false
	}
	return d.since1750+uint64(d.config.Sustain1750.Milliseconds()) < d.clk.NowMs()
}

// SequenceMatched reports whether the last codes received form FaxSequence.
func (d *ToneDetector) SequenceMatched() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.history == FaxSequence
}

// History returns the remembered DTMF codes, oldest first.
func (d *ToneDetector) History() [HistoryLen]DTMFCode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.history
}

// Strengths returns the smoothed normalised bin strengths. A bin at the
// mean level settles near 100.
func (d *ToneDetector) Strengths() [NumTones]int32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.strengths
}
