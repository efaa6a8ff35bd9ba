package cw

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/ColonelBlimp/repeaterctl/internal/audio"
	"github.com/ColonelBlimp/repeaterctl/internal/recovery"
)

const testRate = 16000

type captureSink struct {
	mu      sync.Mutex
	samples []int16
	flushes int
	failAt  int
}

func (s *captureSink) Write(_ context.Context, v int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.samples) >= s.failAt {
		return audio.ErrQueueTimeout
	}
	s.samples = append(s.samples, v)
	return nil
}

func (s *captureSink) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func testGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		SampleRate:    testRate,
		MaxMessageLen: 1024,
		QueueSize:     10,
		MaxSymbols:    16384,
		QueueTimeout:  time.Second,
	}
}

func newTestGenerator(t *testing.T, sink SampleSink) *Generator {
	t.Helper()
	g, err := NewGenerator(testGeneratorConfig(), sink, log.New(io.Discard))
	require.NoError(t, err)
	return g
}

// renderJob encodes msg and renders it, matching the job built by Push.
func renderJob(t *testing.T, g *Generator, ctx context.Context, msg Message) error {
	t.Helper()
	units, err := g.encode(msg)
	require.NoError(t, err)
	return g.render(ctx, job{msg: msg, units: units})
}

func peak(samples []int16) float64 {
	seq := make([]float64, len(samples))
	for i, s := range samples {
		seq[i] = float64(s)
	}
	fft := fourier.NewFFT(len(seq))
	coeffs := fft.Coefficients(nil, seq)
	best, bestMag := 0, 0.0
	for i, c := range coeffs {
		if m := math.Hypot(real(c), imag(c)); m > bestMag {
			best, bestMag = i, m
		}
	}
	return fft.Freq(best) * testRate
}

func TestGenerator_Push_Validation(t *testing.T) {
	g := newTestGenerator(t, &captureSink{})
	ctx := context.Background()
	morse := Morse{Dit: 50 * time.Millisecond}

	err := g.Push(ctx, Message{Text: strings.Repeat("E", 1025), Frequency: 960, Mode: morse})
	assert.ErrorIs(t, err, ErrMessageTooLong)

	err = g.Push(ctx, Message{Text: strings.Repeat("E", 1024), Frequency: 960, Mode: morse})
	assert.NoError(t, err)

	err = g.Push(ctx, Message{Text: "K", Frequency: 9000, Mode: morse})
	assert.ErrorIs(t, err, ErrInvalidFrequency)

	err = g.Push(ctx, Message{Text: "K", Frequency: 960, Mode: Morse{}})
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestGenerator_MorseTone(t *testing.T) {
	sink := &captureSink{}
	g := newTestGenerator(t, sink)
	msg := Message{Text: "TTT", Frequency: 960, Mode: Morse{Dit: 50 * time.Millisecond}}

	require.NoError(t, renderJob(t, g, context.Background(), msg))

	tl, _ := EncodeMorse(msg.Text, 1024)
	assert.Len(t, sink.samples, tl.Len()*800)
	assert.Equal(t, 1, sink.flushes)
	assert.InDelta(t, 960, peak(sink.samples), 2)

	// key up at the end decays back to silence
	last := sink.samples[len(sink.samples)-1]
	assert.Less(t, math.Abs(float64(last)), 100.0)
}

func TestGenerator_MorseEnvelopeRamps(t *testing.T) {
	sink := &captureSink{}
	g := newTestGenerator(t, sink)
	require.NoError(t, renderJob(t, g, context.Background(), Message{Text: "E", Frequency: 1000, Mode: Morse{Dit: 50 * time.Millisecond}}))

	maxAbs := func(s []int16) float64 {
		m := 0.0
		for _, v := range s {
			m = math.Max(m, math.Abs(float64(v)))
		}
		return m
	}
	// no click: the first samples stay far below full scale
	assert.Less(t, maxAbs(sink.samples[:16]), 32768*0.25)
	assert.Greater(t, maxAbs(sink.samples[400:800]), 30000.0)
}

func TestGenerator_PSK(t *testing.T) {
	sink := &captureSink{}
	g := newTestGenerator(t, sink)
	msg := Message{Text: "e", Frequency: 588, Mode: PSK{Rate: PSK125}}

	require.NoError(t, renderJob(t, g, context.Background(), msg))

	tl, _ := EncodeVaricode(msg.Text, 1024)
	const n = 128
	require.Len(t, sink.samples, tl.Len()*n)

	// a zero bit passes through zero amplitude mid-symbol
	mid := sink.samples[n/2-2 : n/2+2]
	for _, v := range mid {
		assert.Less(t, math.Abs(float64(v)), 1000.0)
	}
	// a one bit holds the carrier level
	oneStart := PSKPreambleBits * n
	hold := 0.0
	for _, v := range sink.samples[oneStart : oneStart+n] {
		hold = math.Max(hold, math.Abs(float64(v)))
	}
	assert.InDelta(t, pskAmplitude, hold, 200)
}

func TestGenerator_OutputStallIsFault(t *testing.T) {
	sink := &captureSink{failAt: 100}
	g := newTestGenerator(t, sink)
	require.NoError(t, g.Push(context.Background(), Message{Text: "TEST", Frequency: 960, Mode: Morse{Dit: 50 * time.Millisecond}}))

	err := g.Run(context.Background())
	f, ok := recovery.AsFault(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, recovery.FaultAudioQueue, f.Source)
	assert.False(t, g.Busy())
}

func TestGenerator_PushRejectsTimelineOverflow(t *testing.T) {
	sink := &captureSink{}
	g := newTestGenerator(t, sink)

	// Fits MaxMessageLen but five dahs per digit overflow MaxSymbols.
	long := strings.Repeat("0", 1000)
	err := g.Push(context.Background(), Message{Text: long, Frequency: 960, Mode: Morse{Dit: 50 * time.Millisecond}})
	assert.ErrorIs(t, err, ErrMessageTooLong)
	assert.ErrorIs(t, err, ErrTimelineFull)
	assert.False(t, g.Busy(), "rejected message is not queued")

	cfg := testGeneratorConfig()
	cfg.MaxSymbols = 10
	small, err := NewGenerator(cfg, sink, log.New(io.Discard))
	require.NoError(t, err)
	err = small.Push(context.Background(), Message{Text: "HELLO", Frequency: 960, Mode: Morse{Dit: 50 * time.Millisecond}})
	assert.ErrorIs(t, err, ErrMessageTooLong)
	assert.Empty(t, sink.samples)
}

func TestGenerator_QueueSaturationIsFault(t *testing.T) {
	cfg := testGeneratorConfig()
	cfg.QueueSize = 1
	cfg.QueueTimeout = 5 * time.Millisecond
	g, err := NewGenerator(cfg, &captureSink{}, log.New(io.Discard))
	require.NoError(t, err)

	msg := Message{Text: "K", Frequency: 960, Mode: Morse{Dit: 50 * time.Millisecond}}
	require.NoError(t, g.Push(context.Background(), msg))
	assert.True(t, g.Busy())

	err = g.Push(context.Background(), msg)
	f, ok := recovery.AsFault(err)
	require.True(t, ok)
	assert.Equal(t, recovery.FaultMessageQueue, f.Source)
}

func TestGenerator_BlocksAreWholeAndPadded(t *testing.T) {
	q := audio.NewQueue(64)
	w, err := audio.NewBlockWriter(q, time.Second)
	require.NoError(t, err)
	g := newTestGenerator(t, w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	require.NoError(t, g.Push(ctx, Message{Text: "HB9G", Frequency: 696, Mode: Morse{Dit: 70 * time.Millisecond}}))
	require.Eventually(t, func() bool { return !g.Busy() }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	tl, _ := EncodeMorse("HB9G", 1024)
	frames := tl.Len() * 1120
	blocks := (2*frames + audio.BlockLen - 1) / audio.BlockLen
	require.Equal(t, blocks, q.Len())

	var all []int16
	var b audio.Block
	for q.TryPop(&b) {
		all = append(all, b[:]...)
	}
	assert.Zero(t, len(all)%audio.BlockLen)
	for i := 2 * frames; i < len(all); i++ {
		require.Zero(t, all[i])
	}
}

func TestNewGenerator_Errors(t *testing.T) {
	_, err := NewGenerator(testGeneratorConfig(), nil, nil)
	assert.True(t, errors.Is(err, ErrSinkRequired))

	cfg := testGeneratorConfig()
	cfg.QueueSize = 0
	_, err = NewGenerator(cfg, &captureSink{}, nil)
	assert.Error(t, err)
}
