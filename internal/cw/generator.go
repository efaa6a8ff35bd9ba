// internal/cw/generator.go
package cw

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
	// ErrMessageTooLong indicates the text exceeds the configured maximum
	ErrMessageTooLong = errors.New("message too long")
	// ErrInvalidFrequency indicates the carrier is not audible or above Nyquist
	ErrInvalidFrequency = errors.New("invalid carrier frequency")
	// ErrSinkRequired indicates an output sink is required
	ErrSinkRequired = errors.New("sample sink is required")
)

const (
	// morseFullScale is the envelope target while the key is down
	morseFullScale = 32768.0
	// morseRamp is the fraction of the remaining distance covered per sample
	morseRamp = 1.0 / 64
	// pskAmplitude is the PSK carrier level
	pskAmplitude = 10000.0
)

// SampleSink receives mono samples that are written to both channels of
// fixed-size output blocks.
type SampleSink interface {
	Write(ctx context.Context, sample int16) error
	// Flush zero-pads and hands over the partial block.
	Flush(ctx context.Context) error
}

// Message is one transmission request.
type Message struct {
	Text      string
	Frequency float64
	Mode      Mode
}

// GeneratorConfig holds generator limits.
// All values should come from the application config file.
type GeneratorConfig struct {
	// SampleRate of the output path in Hz (from config: sample_rate)
	SampleRate int
	// MaxMessageLen in bytes (from config: max_message_len)
	MaxMessageLen int
	// QueueSize is the number of messages waiting to be rendered (from config: message_queue_size)
	QueueSize int
	// MaxSymbols bounds the symbol timeline of one message (from config: max_symbols)
	MaxSymbols int
	// QueueTimeout is how long Push waits on a full queue before faulting
	QueueTimeout time.Duration
}

// Generator renders queued messages into the output sink, one at a time.
type Generator struct {
	config   GeneratorConfig
	sink     SampleSink
	messages chan job
	pending  atomic.Int32
	logger   *log.Logger
}

// job is a message with its encoded symbol timeline.
type job struct {
	msg   Message
	units []bool
}

// NewGenerator creates a generator writing into sink.
func NewGenerator(cfg GeneratorConfig, sink SampleSink, logger *log.Logger) (*Generator, error) {
	if sink == nil {
		return nil, ErrSinkRequired
	}
	if cfg.SampleRate <= 0 || cfg.MaxMessageLen <= 0 || cfg.QueueSize <= 0 || cfg.MaxSymbols <= 0 {
		return nil, fmt.Errorf("invalid generator config: %+v", cfg)
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Generator{
		config:   cfg,
		sink:     sink,
		messages: make(chan job, cfg.QueueSize),
		logger:   logger.WithPrefix("cw"),
	}, nil
}

// Push encodes and queues a message. Text longer than MaxMessageLen, or
// whose symbols overflow MaxSymbols, is rejected with ErrMessageTooLong.
// Push blocks while the queue is full; a queue that stays full for
// QueueTimeout is a fault.
func (g *Generator) Push(ctx context.Context, msg Message) error {
	if len(msg.Text) > g.config.MaxMessageLen {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLong, len(msg.Text), g.config.MaxMessageLen)
	}
	if err := validMode(msg.Mode, g.config.SampleRate); err != nil {
		return err
	}
	if msg.Frequency <= 0 || msg.Frequency >= float64(g.config.SampleRate)/2 {
		return fmt.Errorf("%w: %v Hz", ErrInvalidFrequency, msg.Frequency)
	}
	units, err := g.encode(msg)
	if err != nil {
		return err
	}

	g.pending.Add(1)
	timer := time.NewTimer(g.config.QueueTimeout)
	defer timer.Stop()

	select {
	case g.messages <- job{msg: msg, units: units}:
		g.logger.Debug("message queued", "text", msg.Text, "freq", msg.Frequency, "mode", msg.Mode)
		return nil
	case <-ctx.Done():
		g.pending.Add(-1)
		return ctx.Err()
	case <-timer.C:
		g.pending.Add(-1)
		return recovery.NewFault(recovery.FaultMessageQueue, errors.New("message queue saturated"))
	}
}

// Busy reports whether messages are queued or being rendered.
func (g *Generator) Busy() bool {
	return g.pending.Load() > 0
}

// Run renders messages until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-g.messages:
			err := g.render(ctx, j)
			g.pending.Add(-1)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				return nil
			default:
				return err
			}
		}
	}
}

// encode builds the symbol timeline for msg.
func (g *Generator) encode(msg Message) ([]bool, error) {
	var (
		tl  *Timeline
		err error
	)
	switch m := msg.Mode.(type) {
	case Morse:
		tl, err = EncodeMorse(msg.Text, g.config.MaxSymbols)
	case PSK:
		tl, err = EncodeVaricode(msg.Text, g.config.MaxSymbols)
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidMode, m)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMessageTooLong, err)
	}
	return tl.Units(), nil
}

func (g *Generator) render(ctx context.Context, j job) error {
	rate := g.config.SampleRate
	n := j.msg.Mode.SamplesPerSymbol(rate)
	nco := dsp.NewNCO(j.msg.Frequency, float64(rate))

	var err error
	if _, ok := j.msg.Mode.(PSK); ok {
		err = g.keyPSK(ctx, j.units, n, nco)
	} else {
		err = g.keyMorse(ctx, j.units, n, nco)
	}
	if err != nil {
		return g.outputFault(err)
	}

	if err := g.sink.Flush(ctx); err != nil {
		return g.outputFault(err)
	}
	g.logger.Debug("message sent", "text", j.msg.Text, "mode", j.msg.Mode)
	return nil
}

func (g *Generator) outputFault(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return recovery.NewFault(recovery.FaultAudioQueue, err)
}

// keyMorse shapes the key with an exponential envelope to avoid clicks.
func (g *Generator) keyMorse(ctx context.Context, units []bool, samplesPerUnit int, nco *dsp.NCO) error {
	ampl := 0.0
	for _, on := range units {
		target := 0.0
		if on {
			target = morseFullScale
		}
		for k := 0; k < samplesPerUnit; k++ {
			ampl += (target - ampl) * morseRamp
			if err := g.sink.Write(ctx, toSample(ampl*nco.Next())); err != nil {
				return err
			}
		}
	}
	return nil
}

// keyPSK holds the carrier for a one bit and reverses phase through a
// raised-cosine zero crossing for a zero bit.
func (g *Generator) keyPSK(ctx context.Context, bits []bool, samplesPerBit int, nco *dsp.NCO) error {
	sign := 1.0
	for _, bit := range bits {
		for k := 0; k < samplesPerBit; k++ {
			a := pskAmplitude
			if !bit {
				a *= math.Cos(math.Pi * float64(k) / float64(samplesPerBit))
			}
			if err := g.sink.Write(ctx, toSample(sign*a*nco.Next())); err != nil {
				return err
			}
		}
		if !bit {
			sign = -sign
		}
	}
	return nil
}

func toSample(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
