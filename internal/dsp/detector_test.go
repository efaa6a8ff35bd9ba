// internal/dsp/detector_test.go
package dsp

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ColonelBlimp/repeaterctl/internal/clock"
)

const testBlockDuration = 50 * time.Millisecond

func createTestDetectorConfig() DetectorConfig {
	return DetectorConfig{
		SampleRate:    testSampleRate,
		BlockSize:     testBlockSize,
		DTMFThreshold: 200,
		Threshold1750: 250,
		Blocks1750:    3,
		DTMFGap:       2500 * time.Millisecond,
		Sustain1750:   5 * time.Second,
	}
}

// signal keeps the sample index running across blocks.
type signal struct {
	n     int
	freqs []float64
}

func (s *signal) block() []float32 {
	out := make([]float32, testBlockSize)
	for i := range out {
		t := float64(s.n+i) / testSampleRate
		var v float64
		for _, f := range s.freqs {
			v += 0.4 * math.Sin(2*math.Pi*f*t)
		}
		out[i] = float32(v)
	}
	s.n += testBlockSize
	return out
}

type harness struct {
	t   *testing.T
	d   *ToneDetector
	clk *clock.Manual
	sig signal
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewManual(10_000)
	d, err := NewToneDetector(createTestDetectorConfig(), clk)
	require.NoError(t, err)
	d.Enable(true)
	return &harness{t: t, d: d, clk: clk}
}

// feed pushes one block of the given tones and analyses any result.
func (h *harness) feed(freqs ...float64) {
	h.sig.freqs = freqs
	h.clk.Advance(testBlockDuration)
	h.d.Process(h.sig.block())
	for len(h.d.results) > 0 {
		h.d.analyse(<-h.d.results)
	}
}

func TestNewToneDetector_InvalidConfig(t *testing.T) {
	clk := clock.NewManual(0)
	testCases := []struct {
		name    string
		mutate  func(*DetectorConfig)
		wantErr error
	}{
		{"zero dtmf threshold", func(c *DetectorConfig) { c.DTMFThreshold = 0 }, ErrInvalidThreshold},
		{"negative 1750 threshold", func(c *DetectorConfig) { c.Threshold1750 = -1 }, ErrInvalidThreshold},
		{"zero blocks", func(c *DetectorConfig) { c.Blocks1750 = 0 }, ErrInvalidHysteresis},
		{"zero gap", func(c *DetectorConfig) { c.DTMFGap = 0 }, ErrInvalidGap},
		{"bad block size", func(c *DetectorConfig) { c.BlockSize = 0 }, ErrInvalidBlockSize},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := createTestDetectorConfig()
			tc.mutate(&cfg)
			_, err := NewToneDetector(cfg, clk)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}

	_, err := NewToneDetector(createTestDetectorConfig(), nil)
	assert.ErrorIs(t, err, ErrClockRequired)
}

func TestToneDetector_DisabledIgnoresSamples(t *testing.T) {
	clk := clock.NewManual(0)
	d, err := NewToneDetector(createTestDetectorConfig(), clk)
	require.NoError(t, err)

	sig := signal{freqs: []float64{1750}}
	for i := 0; i < 5; i++ {
		d.Process(sig.block())
	}
	assert.Empty(t, d.results)
	assert.False(t, d.enabled.Load())
}

func TestToneDetector_FirstBlockOnlyEstimatesMean(t *testing.T) {
	h := newHarness(t)
	h.sig.freqs = []float64{1750}
	h.d.Process(h.sig.block())
	assert.Empty(t, h.d.results)

	h.d.Process(h.sig.block())
	assert.Len(t, h.d.results, 1)
}

func TestToneDetector_LostBlocksCounted(t *testing.T) {
	h := newHarness(t)
	h.sig.freqs = []float64{1750}
	for i := 0; i < 5; i++ {
		h.d.Process(h.sig.block())
	}
	// one mean block, four results, room for two
	assert.Equal(t, uint64(2), h.d.Lost())
}

func TestToneDetector_1750Hysteresis(t *testing.T) {
	h := newHarness(t)
	h.feed(1750)

	consecutive := 0
	for i := 0; i < 15; i++ {
		h.feed(1750)
		if h.d.Strengths()[Tone1750] > 250 {
			consecutive++
		} else {
			consecutive = 0
		}
		assert.Equal(t, consecutive >= 3, h.d.Tone1750(), "block %d", i)
	}
	assert.True(t, h.d.Tone1750())
	assert.Less(t, h.d.Strengths()[ToneRow1], int32(100))
}

func TestToneDetector_ShortBurstNeverLatches(t *testing.T) {
	h := newHarness(t)
	h.feed(1750)
	h.feed(1750)
	h.feed(1750)

	for i := 0; i < 20; i++ {
		h.feed(941)
		require.False(t, h.d.Tone1750(), "block %d", i)
	}
}

func TestToneDetector_1750Sustained(t *testing.T) {
	h := newHarness(t)
	var events []ToneEvent
	h.d.SetCallback(func(ev ToneEvent) { events = append(events, ev) })

	h.feed(1750)
	for !h.d.Tone1750() {
		h.feed(1750)
	}
	require.Len(t, events, 1)
	assert.Equal(t, Event1750On, events[0].Kind)

	// exactly the sustain time is not yet long
	for i := 0; i < 100; i++ {
		h.feed(1750)
	}
	assert.False(t, h.d.Tone1750Sustained())
	h.feed(1750)
	assert.True(t, h.d.Tone1750Sustained())

	for i := 0; i < 10 && h.d.Tone1750(); i++ {
		h.feed(941)
	}
	assert.False(t, h.d.Tone1750())
	assert.False(t, h.d.Tone1750Sustained())
	assert.Equal(t, Event1750Off, events[len(events)-1].Kind)
}

func TestToneDetector_FaxSequence(t *testing.T) {
	h := newHarness(t)
	h.feed(1209, 697)

	for _, row := range []float64{697, 852, 941} {
		for i := 0; i < 12; i++ {
			h.feed(1209, row)
		}
	}
	assert.Equal(t, FaxSequence, h.d.History())
	assert.True(t, h.d.SequenceMatched())

	// a carrier without DTMF for longer than the gap clears the match
	for i := 0; i < 60; i++ {
		h.feed(1750)
	}
	assert.Equal(t, [HistoryLen]DTMFCode{DTMF7, DTMFStar, DTMFNone}, h.d.History())
	assert.False(t, h.d.SequenceMatched())
}

func TestToneDetector_WrongOrderDoesNotMatch(t *testing.T) {
	h := newHarness(t)
	h.feed(1209, 852)
	for _, row := range []float64{852, 697, 941} {
		for i := 0; i < 12; i++ {
			h.feed(1209, row)
		}
	}
	assert.Equal(t, [HistoryLen]DTMFCode{DTMF7, DTMF1, DTMFStar}, h.d.History())
	assert.False(t, h.d.SequenceMatched())
}

func TestToneDetector_EnableResets(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 10; i++ {
		h.feed(1750)
	}
	require.True(t, h.d.Tone1750())

	h.d.Enable(false)
	h.d.Enable(true)
	assert.False(t, h.d.Tone1750())
	assert.Equal(t, [NumTones]int32{}, h.d.Strengths())

	// the next block only re-estimates the mean
	h.d.Process(h.sig.block())
	assert.Empty(t, h.d.results)
}

func TestToneDetector_SilenceKeepsPreviousValues(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 10; i++ {
		h.feed(1750)
	}
	// the first silent block still sees the old mean as a DC step
	h.feed()
	before := h.d.Strengths()
	h.feed()
	h.feed()
	assert.Equal(t, before, h.d.Strengths())
}

func TestToneDetector_Run(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.d.Run(ctx) }()

	h.sig.freqs = []float64{1750}
	for i := 0; i < 3; i++ {
		h.d.Process(h.sig.block())
	}
	require.Eventually(t, func() bool {
		return h.d.Strengths()[Tone1750] > 0
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestToneDetector_AnalyseNextHonoursContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := h.d.AnalyseNext(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDTMFCode_String(t *testing.T) {
	assert.Equal(t, "1", DTMF1.String())
	assert.Equal(t, "7", DTMF7.String())
	assert.Equal(t, "*", DTMFStar.String())
	assert.Equal(t, "-", DTMFNone.String())
}

func TestTone_String(t *testing.T) {
	assert.Equal(t, "1750", Tone1750.String())
	assert.Equal(t, "697", ToneRow1.String())
	assert.Equal(t, "Tone(7)", Tone(7).String())
}
