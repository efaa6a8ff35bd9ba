// internal/pio/gpio.go
package pio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/warthog618/go-gpiocdev"
)

const consumer = "repeaterctl"

// Line selects one GPIO line. A negative offset leaves the signal unwired.
type Line struct {
	Offset    int  `mapstructure:"offset"`
	ActiveLow bool `mapstructure:"active_low"`
}

// Wired reports whether the line is connected.
func (l Line) Wired() bool {
	return l.Offset >= 0
}

// Unwired is the zero connection.
var Unwired = Line{Offset: -1}

// GPIOConfig maps station signals to lines on one chip.
type GPIOConfig struct {
	Chip string

	Squelch         Line
	DiscrimUp       Line
	DiscrimDown     Line
	QRPIn           Line
	WindGeneratorOK Line
	Button1750      Line
	Button          Line

	TX      Line
	ModOff  Line
	QRPOut  Line
	Fax     Line
	Det1750 Line
}

type inputLine interface {
	Value() (int, error)
	Close() error
}

type outputLine interface {
	SetValue(v int) error
	Close() error
}

// requester opens lines; replaced in tests.
type requester interface {
	input(l Line) (inputLine, error)
	output(l Line) (outputLine, error)
}

type chipRequester struct {
	chip string
}

func (r chipRequester) options(l Line) []gpiocdev.LineReqOption {
	opts := []gpiocdev.LineReqOption{gpiocdev.WithConsumer(consumer)}
	if l.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	return opts
}

func (r chipRequester) input(l Line) (inputLine, error) {
	opts := append(r.options(l), gpiocdev.AsInput)
	return gpiocdev.RequestLine(r.chip, l.Offset, opts...)
}

func (r chipRequester) output(l Line) (outputLine, error) {
	opts := append(r.options(l), gpiocdev.AsOutput(0))
	return gpiocdev.RequestLine(r.chip, l.Offset, opts...)
}

type input struct {
	name     string
	line     inputLine
	fallback bool
	dst      func(*Sensors) *bool
}

type output struct {
	name string
	line outputLine
	last int
	src  func(Controls) bool
}

// GPIO reads and drives the station through the Linux GPIO character
// device. Unwired signals read as their idle level and are never driven.
type GPIO struct {
	logger *log.Logger

	mu      sync.Mutex
	inputs  []*input
	outputs []*output
	closed  bool
}

// OpenGPIO requests every wired line. Outputs start low.
func OpenGPIO(cfg GPIOConfig, logger *log.Logger) (*GPIO, error) {
	if cfg.Chip == "" {
		return nil, errors.New("gpio chip is required")
	}
	return openGPIO(cfg, chipRequester{chip: cfg.Chip}, logger)
}

func openGPIO(cfg GPIOConfig, req requester, logger *log.Logger) (*GPIO, error) {
	if logger == nil {
		logger = log.Default()
	}
	g := &GPIO{logger: logger.WithPrefix("pio")}

	ins := []struct {
		name     string
		line     Line
		fallback bool
		dst      func(*Sensors) *bool
	}{
		{"squelch", cfg.Squelch, false, func(s *Sensors) *bool { return &s.Squelch }},
		{"discrim_up", cfg.DiscrimUp, false, func(s *Sensors) *bool { return &s.DiscrimUp }},
		{"discrim_down", cfg.DiscrimDown, false, func(s *Sensors) *bool { return &s.DiscrimDown }},
		{"qrp", cfg.QRPIn, false, func(s *Sensors) *bool { return &s.QRP }},
		{"wind_generator_ok", cfg.WindGeneratorOK, true, func(s *Sensors) *bool { return &s.WindGeneratorOK }},
		{"button_1750", cfg.Button1750, false, func(s *Sensors) *bool { return &s.Button1750 }},
		{"button", cfg.Button, false, func(s *Sensors) *bool { return &s.Button }},
	}
	for _, in := range ins {
		i := &input{name: in.name, fallback: in.fallback, dst: in.dst}
		if in.line.Wired() {
			l, err := req.input(in.line)
			if err != nil {
				g.Close()
				return nil, fmt.Errorf("request %s line %d: %w", in.name, in.line.Offset, err)
			}
			i.line = l
		}
		g.inputs = append(g.inputs, i)
	}

	outs := []struct {
		name string
		line Line
		src  func(Controls) bool
	}{
		{"tx", cfg.TX, func(c Controls) bool { return c.TX }},
		{"mod_off", cfg.ModOff, func(c Controls) bool { return c.ModOff }},
		{"qrp_out", cfg.QRPOut, func(c Controls) bool { return c.QRP }},
		{"fax", cfg.Fax, func(c Controls) bool { return c.Fax }},
		{"det_1750", cfg.Det1750, func(c Controls) bool { return c.Det1750 }},
	}
	for _, out := range outs {
		if !out.line.Wired() {
			continue
		}
		l, err := req.output(out.line)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("request %s line %d: %w", out.name, out.line.Offset, err)
		}
		g.outputs = append(g.outputs, &output{name: out.name, line: l, src: out.src})
	}

	g.logger.Info("gpio opened", "inputs", len(ins), "outputs", len(g.outputs))
	return g, nil
}

// Read samples every input line.
func (g *GPIO) Read() (Sensors, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return Sensors{}, ErrClosed
	}

	var s Sensors
	for _, in := range g.inputs {
		v := in.fallback
		if in.line != nil {
			raw, err := in.line.Value()
			if err != nil {
				return Sensors{}, fmt.Errorf("read %s: %w", in.name, err)
			}
			v = raw != 0
		}
		*in.dst(&s) = v
	}
	return s, nil
}

// Write drives the output lines that changed since the last call.
func (g *GPIO) Write(c Controls) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}

	var errs []error
	for _, out := range g.outputs {
		v := 0
		if out.src(c) {
			v = 1
		}
		if v == out.last {
			continue
		}
		if err := out.line.SetValue(v); err != nil {
			errs = append(errs, fmt.Errorf("set %s: %w", out.name, err))
			continue
		}
		out.last = v
	}
	return errors.Join(errs...)
}

// Close drives the outputs low and releases every line.
func (g *GPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true

	var errs []error
	for _, out := range g.outputs {
		if err := out.line.SetValue(0); err != nil {
			errs = append(errs, err)
		}
		if err := out.line.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, in := range g.inputs {
		if in.line != nil {
			if err := in.line.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
