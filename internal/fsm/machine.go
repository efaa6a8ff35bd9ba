// internal/fsm/machine.go
package fsm

import (
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ColonelBlimp/repeaterctl/internal/clock"
	"github.com/ColonelBlimp/repeaterctl/internal/cw"
)

var (
	// ErrClockRequired indicates a clock instance is required
	ErrClockRequired = errors.New("clock is required")
	// ErrTelemetryRequired indicates a telemetry source is required
	ErrTelemetryRequired = errors.New("telemetry is required")
	// ErrStatsRequired indicates a statistics provider is required
	ErrStatsRequired = errors.New("stats provider is required")
)

const (
	letterFreq  = 960.0
	qrpFreq     = 696.0
	textFreq    = 696.0
	beaconFreq  = 588.0
	defaultDit  = 50 * time.Millisecond
	textDit     = 70 * time.Millisecond
	beaconDit   = 110 * time.Millisecond
	openSettle  = 200 * time.Millisecond
	letterRetry = 3 * time.Second
	listenIdle  = 5 * time.Second
	listenWait  = 6 * time.Second
	listenLimit = 7 * time.Second
	waitLimit   = 15 * time.Second
)

// Config holds the repeater identity and timing.
// All values should come from the application config file.
type Config struct {
	Callsign string
	Locator  string
	// Altitude is sent as text, e.g. "1628M"
	Altitude string
	// Greeting replaces the short beacon on New Year's day
	Greeting string

	// ShortBeaconMax is the idle time before a short beacon (from config: short_beacon_max_s)
	ShortBeaconMax time.Duration
	// ShortBeaconReset restarts the idle count after a longer QSO (from config: short_beacon_reset_qso_s)
	ShortBeaconReset time.Duration
	// QSO73, QSOCallsign and QSOLongID pick the sign-off by QSO length
	QSO73       time.Duration
	QSOCallsign time.Duration
	QSOLongID   time.Duration
	// TalkLimit is the longest single transmission (from config: talk_limit_s)
	TalkLimit time.Duration
	// BlockedFor is the cool-down after a cutoff (from config: blocked_s)
	BlockedFor time.Duration
	// StartupGuard holds off the long beacon after power-up
	StartupGuard time.Duration
}

// DefaultConfig returns the HB9G settings.
func DefaultConfig() Config {
	return Config{
		Callsign:         "HB9G",
		Locator:          "JN36BK",
		Altitude:         "1628M",
		Greeting:         "BONNE ANNEE",
		ShortBeaconMax:   20 * time.Minute,
		ShortBeaconReset: 10 * time.Minute,
		QSO73:            5 * time.Minute,
		QSOCallsign:      10 * time.Minute,
		QSOLongID:        15 * time.Minute,
		TalkLimit:        5 * time.Minute,
		BlockedFor:       10 * time.Second,
		StartupGuard:     time.Minute,
	}
}

// Machine is the repeater controller. Step is called from a single
// goroutine at the polling period.
type Machine struct {
	cfg    Config
	clk    clock.Clock
	tel    Telemetry
	stats  StatsProvider
	logger *log.Logger
	texts  *beaconBuilder

	in  Inputs
	out Outputs

	state   State
	beacon  BeaconState
	sstv    SSTVState
	entered [numStates]uint64
	seg     segment
	picture bool
	bootMs  uint64

	shortBeaconS          int
	shortBeaconLastUpdate uint64
	lastQSOStart          uint64
	qsoOngoing            bool
	qsoOccurred           bool
	qsoStart              uint64
}

// New creates a machine in Idle.
func New(cfg Config, clk clock.Clock, tel Telemetry, stats StatsProvider, logger *log.Logger) (*Machine, error) {
	if clk == nil {
		return nil, ErrClockRequired
	}
	if tel == nil {
		return nil, ErrTelemetryRequired
	}
	if stats == nil {
		return nil, ErrStatsRequired
	}
	if logger == nil {
		logger = log.Default()
	}

	now := clk.NowMs()
	m := &Machine{
		cfg:      cfg,
		clk:      clk,
		tel:      tel,
		stats:    stats,
		logger:   logger.WithPrefix("fsm"),
		texts:    &beaconBuilder{cfg: cfg, tel: tel, rng: newLFSR()},
		state:    Idle,
		beacon:   EvenHour,
		sstv:     SSTVOff,
		bootMs:   now,
		qsoStart: now,
	}
	m.entered[Idle] = now
	m.out = defaultOutputs(m.out)
	return m, nil
}

func defaultOutputs(prev Outputs) Outputs {
	return Outputs{
		Message:   prev.Message,
		Frequency: letterFreq,
		Mode:      cw.Morse{Dit: defaultDit},
	}
}

// Step runs one tick: main machine, beacon cadence, then slow-scan mode.
func (m *Machine) Step(in Inputs) Outputs {
	m.SetInputs(in)
	m.Update()
	m.UpdateBeacon()
	m.UpdateSSTV()
	return m.Outputs()
}

// SetInputs replaces the input snapshot.
func (m *Machine) SetInputs(in Inputs) {
	m.in = in
}

// Outputs returns a copy of the outputs of the last Update.
func (m *Machine) Outputs() Outputs {
	return m.out
}

// State returns the current main state.
func (m *Machine) State() State {
	return m.state
}

// BeaconState returns the beacon cadence state.
func (m *Machine) BeaconState() BeaconState {
	return m.beacon
}

// SSTVState returns the slow-scan mode state.
func (m *Machine) SSTVState() SSTVState {
	return m.sstv
}

// ForceBeacon schedules the long beacon as if the hour had changed.
func (m *Machine) ForceBeacon() {
	m.switchBeacon(BeaconPending)
}

func (m *Machine) stateTime() time.Duration {
	return time.Duration(m.clk.NowMs()-m.entered[m.state]) * time.Millisecond
}

func (m *Machine) qsoDuration() time.Duration {
	return time.Duration(m.entered[m.state]-m.qsoStart) * time.Millisecond
}

func (m *Machine) selectLongBeacon() State {
	switch {
	case m.in.QRP || m.in.SWRHigh:
		if m.in.SendStats {
			return SpecialBeaconStats1
		}
		return SpecialBeacon
	case m.in.SendStats:
		return StatsBeacon1
	default:
		return LongBeacon
	}
}

// transmit drives the segment of the current state. It returns true on
// the tick the message is reported done.
func (m *Machine) transmit(build func() string) bool {
	if m.seg.fire() {
		m.out.Message = build()
		m.out.Trigger = true
		m.logger.Debug("message triggered", "state", m.state, "text", m.out.Message)
		return false
	}
	return m.seg.complete(m.in.MessageDone)
}

// transmitMessage is transmit for fixed text.
func (m *Machine) transmitMessage(text string) bool {
	return m.transmit(func() string { return text })
}

func (m *Machine) onAir(modulation bool) {
	m.out.TxOn = true
	m.out.Modulation = modulation
	m.out.RequireToneDetector = modulation
}

// Update computes the next main state and the outputs.
func (m *Machine) Update() {
	now := m.clk.NowMs()
	next := m.state
	m.out = defaultOutputs(m.out)

	switch m.state {
	case Idle:
		next = m.updateIdle(now)

	case OpenSquelch1:
		// no transmitter here, or a stuck squelch would keep it on
		m.out.RequireToneDetector = true
		if !m.in.Squelch && !m.in.Tone1750 {
			next = OpenSquelch2
		}

	case OpenSquelch2:
		m.onAir(true)
		m.qsoOccurred = false
		m.qsoStart = now
		if m.stateTime() > openSettle {
			next = SendLetter
		}

	case SendLetter:
		m.onAir(true)
		letter := selectLetter(m.in, m.sstv)
		if letter == letterQRP {
			m.out.Frequency = qrpFreq
		}
		if m.transmitMessage(letter) {
			next = Listening
		}

	case Listening:
		m.onAir(true)
		next = m.updateListening()

	case Waiting:
		if m.in.Squelch {
			m.out.RequireToneDetector = true
			next = Listening
		} else if m.stateTime() > waitLimit {
			next = Idle
		}

	case QsoActive:
		m.onAir(true)
		m.qsoOccurred = true
		if !m.qsoOngoing {
			m.qsoOngoing = true
			m.lastQSOStart = now
		}
		switch t := m.stateTime(); {
		case !m.in.Squelch && t < letterRetry:
			next = Listening
		case !m.in.Squelch:
			next = SendLetter
		case t >= m.cfg.TalkLimit:
			next = TooLongCutoff
		}

	case TooLongCutoff:
		m.out.TxOn = true
		if m.transmitMessage(" HI HI ") {
			m.stats.CutoffTriggered()
			next = Blocked
		}

	case Blocked:
		if m.stateTime() >= m.cfg.BlockedFor {
			next = Idle
		}

	case Send73, SendCallsign, SendLongID:
		m.onAir(true)
		m.out.Frequency = textFreq
		m.out.Mode = cw.Morse{Dit: textDit}
		build := func() string { return " 73" + postDelay }
		switch m.state {
		case SendCallsign:
			build = func() string { return " " + m.cfg.Callsign + postDelay }
		case SendLongID:
			build = m.texts.longID
		}
		done := m.transmit(build)
		if m.in.Squelch {
			m.qsoStart = now
			next = QsoActive
		} else if done {
			next = Idle
		}

	case LongBeacon, StatsBeacon1:
		m.out.TxOn = true
		m.out.Frequency = beaconFreq
		m.out.Mode = cw.Morse{Dit: beaconDit}
		stats := m.state == StatsBeacon1
		if m.transmit(func() string { return m.texts.longBeacon(endOfLine(m.in, m.tel, stats)) }) {
			if stats {
				next = StatsBeacon2
			} else {
				m.stats.BeaconSent()
				next = Idle
			}
		}

	case SpecialBeacon, SpecialBeaconStats1:
		m.out.TxOn = true
		m.out.Frequency = textFreq
		m.out.Mode = cw.Morse{Dit: textDit}
		stats := m.state == SpecialBeaconStats1
		if m.transmit(func() string { return m.texts.specialBeacon(endOfLine(m.in, m.tel, stats)) }) {
			m.stats.BeaconSent()
			if stats {
				next = SpecialBeaconStats2
			} else {
				next = Idle
			}
		}

	case StatsBeacon2, SpecialBeaconStats2:
		m.out.TxOn = true
		m.out.Frequency = beaconFreq
		m.out.Mode = cw.PSK{Rate: cw.PSK125}
		if m.transmit(func() string { return m.stats.StatsText(m.tel.WindDisconnected()) }) {
			if m.state == StatsBeacon2 {
				next = StatsBeacon3
			} else {
				next = SpecialBeaconStats3
			}
		}

	case StatsBeacon3, SpecialBeaconStats3:
		m.out.TxOn = true
		if m.state == StatsBeacon3 {
			m.out.Frequency = beaconFreq
			m.out.Mode = cw.Morse{Dit: beaconDit}
		} else {
			m.out.Frequency = textFreq
			m.out.Mode = cw.Morse{Dit: textDit}
		}
		if m.transmit(func() string { return preDelay + endOfLine(m.in, m.tel, false) + postDelay }) {
			m.stats.BeaconSent()
			next = Idle
		}

	case ShortBeacon, ShortBeaconOpen:
		m.out.TxOn = true
		m.out.Frequency = textFreq
		m.out.Mode = cw.Morse{Dit: textDit}
		m.out.Picture = m.picture
		build := func() string { return m.texts.shortBeacon(m.in.HappyNewYear) }
		if m.picture {
			build = func() string { return "" }
		}
		done := m.transmit(build)
		switch {
		case m.state == ShortBeaconOpen && done:
			m.stats.BeaconSent()
			next = OpenSquelch2
		case m.state == ShortBeaconOpen:
		case done && m.in.Squelch:
			next = OpenSquelch2
		case done:
			m.stats.BeaconSent()
			next = Idle
		case m.in.Squelch:
			next = ShortBeaconOpen
		}

	default:
		m.logger.Error("unknown state", "state", m.state)
		next = Idle
	}

	m.switchState(next, now)
}

func (m *Machine) updateIdle(now uint64) State {
	if m.qsoOngoing {
		if time.Duration(now-m.lastQSOStart)*time.Millisecond > m.cfg.ShortBeaconReset {
			m.shortBeaconS = 0
		}
		m.qsoOngoing = false
	}

	maxS := int(m.cfg.ShortBeaconMax / time.Second)
	elapsed := uint64(m.stateTime() / time.Second)
	for m.shortBeaconS < maxS && elapsed-m.shortBeaconLastUpdate >= 1 {
		m.shortBeaconLastUpdate++
		m.shortBeaconS++
	}

	m.out.RequireToneDetector = m.in.Squelch

	switch {
	case m.in.Squelch && m.in.Tone1750,
		m.in.Squelch && m.sstv == SSTVOn,
		m.in.Button1750:
		return OpenSquelch1
	case m.beacon == BeaconPending:
		m.shortBeaconS = 0
		return m.selectLongBeacon()
	case m.in.PictureRequest:
		m.picture = true
		return ShortBeacon
	case !m.in.QRP && m.shortBeaconS >= maxS:
		m.shortBeaconS = 0
		return ShortBeacon
	}
	return Idle
}

func (m *Machine) updateListening() State {
	if m.in.Squelch {
		return QsoActive
	}

	next := Listening
	t := m.stateTime()
	if t > listenIdle {
		switch q := m.qsoDuration(); {
		case m.beacon == BeaconPending:
			m.shortBeaconS = 0
			next = m.selectLongBeacon()
		case !m.qsoOccurred:
		case q >= m.cfg.QSOLongID:
			next = SendLongID
		case q >= m.cfg.QSOCallsign:
			next = SendCallsign
		case q >= m.cfg.QSO73:
			next = Send73
		default:
			next = Idle
		}
	}
	if t > listenWait && !m.qsoOccurred {
		next = Waiting
	}
	// escape hatch against stuck inputs
	if t > listenLimit {
		next = Idle
	}
	return next
}

func (m *Machine) switchState(next State, now uint64) {
	if !next.valid() {
		m.logger.Error("invalid next state", "from", m.state, "to", next)
		next = Idle
	}
	if next == m.state {
		return
	}
	m.entered[next] = now
	m.shortBeaconLastUpdate = 0
	if !(m.state == ShortBeacon && next == ShortBeaconOpen) {
		m.seg.reset()
	}
	if next == Idle {
		m.picture = false
	}
	m.logger.Info("state switched", "from", m.state, "to", next)
	m.state = next
}
