// internal/controller/controller.go
package controller

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ColonelBlimp/repeaterctl/internal/clock"
	"github.com/ColonelBlimp/repeaterctl/internal/cw"
	"github.com/ColonelBlimp/repeaterctl/internal/dsp"
	"github.com/ColonelBlimp/repeaterctl/internal/fsm"
	"github.com/ColonelBlimp/repeaterctl/internal/pio"
	"github.com/ColonelBlimp/repeaterctl/internal/recovery"
)

var (
	// ErrMachineRequired indicates the state machine is missing
	ErrMachineRequired = errors.New("state machine is required")
	// ErrIORequired indicates the sensor source or actuators are missing
	ErrIORequired = errors.New("sensor source and actuators are required")
	// ErrGeneratorRequired indicates a message or picture generator is missing
	ErrGeneratorRequired = errors.New("message and picture generators are required")
	// ErrDetectorRequired indicates the tone detector is missing
	ErrDetectorRequired = errors.New("tone detector is required")
	// ErrClockRequired indicates the millisecond clock is missing
	ErrClockRequired = errors.New("clock is required")
)

// MessageSender is the CW/PSK generator.
type MessageSender interface {
	Push(ctx context.Context, msg cw.Message) error
	Busy() bool
}

// PictureSender is the SSTV generator.
type PictureSender interface {
	SendTestPattern(ctx context.Context) error
	Busy() bool
}

// Detector is the tone detector as seen by the control loop.
type Detector interface {
	Enable(on bool)
	Tone1750() bool
	Tone1750Sustained() bool
	SequenceMatched() bool
	Strengths() [dsp.NumTones]int32
	Lost() uint64
}

// Playback reports whether the audio output has drained.
type Playback interface {
	Silent() bool
}

// Power decides low power operation from the charge controller.
type Power interface {
	TooLow() (qrp, known bool)
	SupplyVoltage() float64
}

// WallClock supplies local time.
type WallClock interface {
	Local() (time.Time, bool)
}

// Recorder receives events for the statistics.
type Recorder interface {
	TxSwitched()
	WindGeneratorMoved()
	State(name string)
	LostBlocks(n uint64)
	ToneStrength(tone string, v int32)
	MessagePushed(generator string)
	VoltageAtHour(hour int, v float64)
}

// Config holds the loop settings.
type Config struct {
	// Tick is the poll period (from config: poll_interval_ms)
	Tick time.Duration
	// StatsHour is the local hour of the statistics beacon (from config: stats_hour)
	StatsHour int
	// ButtonDebounce is the number of agreeing polls for the beacon button
	ButtonDebounce int
	// MetricsEvery is the number of polls between detector metric updates
	MetricsEvery int
}

// DefaultConfig returns a 10 ms loop with the statistics at 22h.
func DefaultConfig() Config {
	return Config{
		Tick:           10 * time.Millisecond,
		StatsHour:      22,
		ButtonDebounce: pio.DefaultDebounce,
		MetricsEvery:   100,
	}
}

// Deps are the collaborators of the loop. Playback, Power, Parity and
// Recorder are optional.
type Deps struct {
	Machine   *fsm.Machine
	Clock     clock.Clock
	Wall      WallClock
	Parity    *clock.HourParity
	Sensors   pio.Source
	Actuators pio.Actuators
	Detector  Detector
	Messages  MessageSender
	Pictures  PictureSender
	Playback  Playback
	Power     Power
	Recorder  Recorder
	Logger    *log.Logger
}

// Controller is the polling loop around the state machine. It samples the
// inputs, steps the machine, drives the outputs and routes each message
// trigger to exactly one generator.
type Controller struct {
	cfg    Config
	d      Deps
	logger *log.Logger
	button *pio.Debouncer

	faults         chan error
	forceBeacon    atomic.Bool
	pictureRequest atomic.Bool
	pictureActive  atomic.Bool

	sensors     pio.Sensors
	haveSensors bool
	lastButton  bool
	lastQRP     bool
	lastIdle    bool
	lastTrigger bool
	lastTx      bool
	lastState   fsm.State
	lastHour    int
	lastLost    uint64
	ticks       int
}

// New checks the dependencies and returns a stopped loop.
func New(cfg Config, d Deps) (*Controller, error) {
	switch {
	case d.Machine == nil:
		return nil, ErrMachineRequired
	case d.Sensors == nil || d.Actuators == nil:
		return nil, ErrIORequired
	case d.Messages == nil || d.Pictures == nil:
		return nil, ErrGeneratorRequired
	case d.Detector == nil:
		return nil, ErrDetectorRequired
	case d.Clock == nil:
		return nil, ErrClockRequired
	}
	if d.Wall == nil {
		d.Wall = noWall{}
	}
	if d.Parity == nil {
		d.Parity = clock.NewHourParity(d.Clock)
	}
	if d.Playback == nil {
		d.Playback = silent{}
	}
	if d.Power == nil {
		d.Power = unknownPower{}
	}
	if d.Recorder == nil {
		d.Recorder = nopRecorder{}
	}
	if d.Logger == nil {
		d.Logger = log.Default()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultConfig().Tick
	}
	if cfg.MetricsEvery <= 0 {
		cfg.MetricsEvery = DefaultConfig().MetricsEvery
	}

	return &Controller{
		cfg:       cfg,
		d:         d,
		logger:    d.Logger.WithPrefix("ctl"),
		button:    pio.NewDebouncer(cfg.ButtonDebounce),
		faults:    make(chan error, 1),
		lastState: d.Machine.State(),
		lastHour:  -1,
	}, nil
}

// ForceBeacon schedules the long beacon at the next poll.
func (c *Controller) ForceBeacon() {
	c.forceBeacon.Store(true)
}

// RequestPicture asks for the SSTV test picture at the next poll.
func (c *Controller) RequestPicture() {
	c.pictureRequest.Store(true)
}

// Run polls every Tick until ctx is cancelled or a fault is raised. The
// transmitter is switched off on return.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()
	defer c.Off()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-c.faults:
			return err
		case <-ticker.C:
			if err := c.Tick(ctx); err != nil {
				return err
			}
		}
	}
}

// Off drops the transmitter and modulation.
func (c *Controller) Off() {
	if err := c.d.Actuators.Write(pio.Controls{ModOff: true}); err != nil {
		c.logger.Error("switching off failed", "err", err)
	}
}

// Tick runs one poll. It returns only fatal faults.
func (c *Controller) Tick(ctx context.Context) error {
	c.ticks++

	s, err := c.d.Sensors.Read()
	if err != nil {
		c.logger.Warn("sensor read failed", "err", err)
		s = c.sensors
	}
	c.logInputs(s)
	c.sensors, c.haveSensors = s, true

	button := c.button.Update(s.Button)
	pressed := button && !c.lastButton
	c.lastButton = button

	qrp := s.QRP
	if low, known := c.d.Power.TooLow(); known && low {
		qrp = true
	}
	if qrp != c.lastQRP {
		c.logger.Info("qrp changed", "qrp", qrp)
		c.lastQRP = qrp
	}

	local, valid := c.d.Wall.Local()
	even := c.d.Parity.Update(local, valid)
	if valid && local.Hour() != c.lastHour {
		if c.lastHour >= 0 {
			c.d.Recorder.VoltageAtHour(local.Hour(), c.d.Power.SupplyVoltage())
		}
		c.lastHour = local.Hour()
	}

	idle := !c.d.Messages.Busy() && !c.d.Pictures.Busy() &&
		!c.pictureActive.Load() && c.d.Playback.Silent()
	done := idle && !c.lastIdle
	c.lastIdle = idle

	in := fsm.Inputs{
		Squelch:         s.Squelch,
		DiscrimUp:       s.DiscrimUp,
		DiscrimDown:     s.DiscrimDown,
		QRP:             qrp,
		WindGeneratorOK: s.WindGeneratorOK,
		HourIsEven:      even,
		Button1750:      s.Button1750,
		Tone1750:        c.d.Detector.Tone1750(),
		Long1750:        c.d.Detector.Tone1750Sustained(),
		FaxMode:         c.d.Detector.SequenceMatched(),
		MessageDone:     done,
		SendStats:       valid && local.Hour() == c.cfg.StatsHour,
		HappyNewYear:    valid && local.Month() == time.January && local.Day() == 1,
		PictureRequest:  c.pictureRequest.Swap(false),
	}

	m := c.d.Machine
	if pressed || c.forceBeacon.Swap(false) {
		c.logger.Info("beacon forced")
		m.ForceBeacon()
	}
	out := m.Step(in)

	c.d.Detector.Enable(out.RequireToneDetector)

	if out.TxOn != c.lastTx {
		c.d.Recorder.TxSwitched()
		c.lastTx = out.TxOn
	}
	if st := m.State(); st != c.lastState {
		c.d.Recorder.State(st.String())
		c.lastState = st
	}

	ctl := pio.Controls{
		TX:      out.TxOn,
		ModOff:  !out.Modulation,
		QRP:     qrp,
		Fax:     m.SSTVState() == fsm.SSTVOn,
		Det1750: in.Tone1750,
	}
	if err := c.d.Actuators.Write(ctl); err != nil {
		c.logger.Warn("output write failed", "err", err)
	}

	if out.Trigger && !c.lastTrigger {
		if err := c.forward(ctx, out); err != nil {
			return err
		}
	}
	c.lastTrigger = out.Trigger

	if c.ticks%c.cfg.MetricsEvery == 0 {
		c.publishDetector()
	}
	return nil
}

// forward hands a triggered message to its generator. The next idle poll
// then reports the message done, even if the generator finished between
// two polls.
func (c *Controller) forward(ctx context.Context, out fsm.Outputs) error {
	c.lastIdle = false

	if out.Picture {
		c.pictureActive.Store(true)
		c.d.Recorder.MessagePushed("sstv")
		go func() {
			defer c.pictureActive.Store(false)
			defer recovery.HandlePanicFunc(c.Off)
			if err := c.d.Pictures.SendTestPattern(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.raise(err)
			}
		}()
		return nil
	}

	if out.Message == "" {
		return nil
	}
	err := c.d.Messages.Push(ctx, cw.Message{Text: out.Message, Frequency: out.Frequency, Mode: out.Mode})
	switch {
	case err == nil:
		c.d.Recorder.MessagePushed("cw")
	case errors.Is(err, context.Canceled):
	default:
		if _, ok := recovery.AsFault(err); ok {
			return err
		}
		c.logger.Error("message rejected", "err", err, "text", out.Message)
	}
	return nil
}

func (c *Controller) raise(err error) {
	select {
	case c.faults <- err:
	default:
	}
}

func (c *Controller) logInputs(s pio.Sensors) {
	prev := c.sensors
	if !c.haveSensors {
		prev = pio.Sensors{WindGeneratorOK: s.WindGeneratorOK}
	}
	if s.Squelch != prev.Squelch {
		c.logger.Debug("squelch", "open", s.Squelch)
	}
	if s.DiscrimUp != prev.DiscrimUp || s.DiscrimDown != prev.DiscrimDown {
		c.logger.Debug("discriminator", "up", s.DiscrimUp, "down", s.DiscrimDown)
	}
	if s.WindGeneratorOK != prev.WindGeneratorOK {
		c.logger.Info("wind generator", "deployed", s.WindGeneratorOK)
		c.d.Recorder.WindGeneratorMoved()
	}
}

func (c *Controller) publishDetector() {
	det := c.d.Detector
	if lost := det.Lost(); lost > c.lastLost {
		c.d.Recorder.LostBlocks(lost - c.lastLost)
		c.lastLost = lost
	}
	if c.d.Machine.Outputs().RequireToneDetector {
		st := det.Strengths()
		for t := dsp.Tone(0); t < dsp.NumTones; t++ {
			c.d.Recorder.ToneStrength(t.String(), st[t])
		}
		c.logger.Debug("tone strengths", "1209", st[dsp.ToneCol1], "697", st[dsp.ToneRow1],
			"852", st[dsp.ToneRow7], "941", st[dsp.ToneRowStar], "1750", st[dsp.Tone1750])
	}
}

type noWall struct{}

func (noWall) Local() (time.Time, bool) { return time.Time{}, false }

type silent struct{}

func (silent) Silent() bool { return true }

type unknownPower struct{}

func (unknownPower) TooLow() (bool, bool)   { return false, false }
func (unknownPower) SupplyVoltage() float64 { return 0 }

type nopRecorder struct{}

func (nopRecorder) TxSwitched()                {}
func (nopRecorder) WindGeneratorMoved()        {}
func (nopRecorder) State(string)               {}
func (nopRecorder) LostBlocks(uint64)          {}
func (nopRecorder) ToneStrength(string, int32) {}
func (nopRecorder) MessagePushed(string)       {}
func (nopRecorder) VoltageAtHour(int, float64) {}
