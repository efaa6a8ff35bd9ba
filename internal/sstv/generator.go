// internal/sstv/generator.go
package sstv

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ColonelBlimp/repeaterctl/internal/dsp"
	"github.com/ColonelBlimp/repeaterctl/internal/recovery"
)

var (
	// ErrRingFull indicates the producer caught up with the renderer
	ErrRingFull = errors.New("sstv event ring is full")
	// ErrSinkRequired indicates an output sink is required
	ErrSinkRequired = errors.New("sample sink is required")
	// ErrInvalidEvent indicates a negative duration or an unplayable frequency
	ErrInvalidEvent = errors.New("invalid sstv event")
)

const fullScale = 32767.0

// Sink receives mono samples for the stereo output blocks.
type Sink interface {
	Write(ctx context.Context, sample int16) error
	Flush(ctx context.Context) error
}

// Event is one constant tone.
type Event struct {
	Frequency float64
	// Duration in milliseconds
	Duration float64
}

// window is a contiguous run of ring entries. A zero length ends the
// transmission.
type window struct {
	start  int
	length int
}

// Config holds the generator settings.
type Config struct {
	// SampleRate of the output path in Hz (from config: sample_rate)
	SampleRate int
	// RingSize is the event capacity (from config: sstv_ring_size)
	RingSize int
	// Watermark is the tone time batched before a window is handed over
	// (from config: sstv_watermark_ms)
	Watermark time.Duration
	// HandoffTimeout bounds the wait for the renderer to take a window
	HandoffTimeout time.Duration
}

// DefaultConfig fits one Martin M1 line several times over.
func DefaultConfig() Config {
	return Config{
		SampleRate:     16000,
		RingSize:       888,
		Watermark:      100 * time.Millisecond,
		HandoffTimeout: time.Minute,
	}
}

// Generator turns a script of tones into audio. Send and End are called by
// a single producer; Run is the renderer.
type Generator struct {
	config Config
	sink   Sink
	ring   []Event

	// producer side
	write     int
	winStart  int
	winLen    int
	winMillis float64

	outstanding atomic.Int64
	busy        atomic.Bool
	windows     chan window
	logger      *log.Logger
}

// NewGenerator creates a generator writing into sink.
func NewGenerator(cfg Config, sink Sink, logger *log.Logger) (*Generator, error) {
	if sink == nil {
		return nil, ErrSinkRequired
	}
	if cfg.SampleRate <= 0 || cfg.RingSize <= 0 || cfg.Watermark <= 0 {
		return nil, fmt.Errorf("invalid sstv config: %+v", cfg)
	}
	if cfg.HandoffTimeout <= 0 {
		cfg.HandoffTimeout = time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Generator{
		config:  cfg,
		sink:    sink,
		ring:    make([]Event, cfg.RingSize),
		windows: make(chan window, 1),
		logger:  logger.WithPrefix("sstv"),
	}, nil
}

// Send appends one tone. Once the batched tones exceed the watermark the
// batch is handed to the renderer, waiting while the renderer still holds
// the previous one.
func (g *Generator) Send(ctx context.Context, freq, millis float64) error {
	if millis < 0 || freq < 0 || freq >= float64(g.config.SampleRate)/2 {
		return fmt.Errorf("%w: %v Hz for %v ms", ErrInvalidEvent, freq, millis)
	}
	if g.outstanding.Load() >= int64(len(g.ring)) {
		return ErrRingFull
	}

	g.busy.Store(true)
	g.ring[g.write] = Event{Frequency: freq, Duration: millis}
	g.write = (g.write + 1) % len(g.ring)
	g.outstanding.Add(1)
	g.winLen++
	g.winMillis += millis

	if g.winMillis > float64(g.config.Watermark.Milliseconds()) {
		return g.handOff(ctx)
	}
	return nil
}

// End hands over what is left and marks the end of the transmission.
func (g *Generator) End(ctx context.Context) error {
	if g.winLen > 0 {
		if err := g.handOff(ctx); err != nil {
			return err
		}
	}
	return g.deliver(ctx, window{})
}

func (g *Generator) handOff(ctx context.Context) error {
	w := window{start: g.winStart, length: g.winLen}
	g.winStart = g.write
	g.winLen = 0
	g.winMillis = 0
	return g.deliver(ctx, w)
}

func (g *Generator) deliver(ctx context.Context, w window) error {
	select {
	case g.windows <- w:
		return nil
	default:
	}

	timer := time.NewTimer(g.config.HandoffTimeout)
	defer timer.Stop()
	select {
	case g.windows <- w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return recovery.NewFault(recovery.FaultPictureQueue, errors.New("renderer stalled"))
	}
}

// Busy reports whether a transmission is being scripted or rendered.
func (g *Generator) Busy() bool {
	return g.busy.Load()
}

// Run renders windows until ctx is cancelled. Each event plays for its
// duration; the fraction of a sample left over carries into the next event
// so long scripts keep their timing.
func (g *Generator) Run(ctx context.Context) error {
	rate := float64(g.config.SampleRate)
	perSample := 1000 / rate
	nco := dsp.NewNCO(0, rate)
	carry := 0.0

	for {
		var w window
		select {
		case <-ctx.Done():
			return nil
		case w = <-g.windows:
		}

		if w.length == 0 {
			err := g.sink.Flush(ctx)
			carry = 0
			nco.Reset()
			g.busy.Store(false)
			if err != nil {
				return g.outputFault(err)
			}
			g.logger.Debug("transmission complete")
			continue
		}

		for i := 0; i < w.length; i++ {
			ev := g.ring[(w.start+i)%len(g.ring)]
			nco.SetFrequency(ev.Frequency)
			for carry < ev.Duration {
				s := int16(math.Round(fullScale * nco.Next()))
				if err := g.sink.Write(ctx, s); err != nil {
					g.busy.Store(false)
					return g.outputFault(err)
				}
				carry += perSample
			}
			carry -= ev.Duration
			g.outstanding.Add(-1)
		}
	}
}

func (g *Generator) outputFault(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return recovery.NewFault(recovery.FaultAudioQueue, err)
}
