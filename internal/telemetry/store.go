// internal/telemetry/store.go
package telemetry

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ColonelBlimp/repeaterctl/internal/clock"
)

const (
	// MaxMessageAge is how long a charge controller reading stays valid
	MaxMessageAge = 60 * time.Second
	// TemperatureAge is how long a temperature reading stays valid
	TemperatureAge = 15 * time.Minute

	// chargeQRP and chargeQRO are the battery capacity hysteresis in mAh
	chargeQRP = 1_300_000
	chargeQRO = 1_350_000
)

var (
	// ErrUnknownMessage indicates a line the store does not understand
	ErrUnknownMessage = errors.New("unknown telemetry message")
	// ErrBadValue indicates a message field that does not parse
	ErrBadValue = errors.New("bad telemetry value")
)

// Store holds the latest station telemetry. It is safe for concurrent use.
type Store struct {
	clk clock.Clock

	mu           sync.Mutex
	supply       float64
	capacityMAh  uint32
	capacityOK   bool
	breakerOpen  bool
	breakerOK    bool
	lastCharge   uint64
	temp         float64
	tempAt       uint64
	tempOK       bool
	qrp          bool
	onVoltage    func(float64)
	onTemp       func(float64)
	onBreakerMov func()
}

// NewStore creates an empty store.
func NewStore(clk clock.Clock) (*Store, error) {
	if clk == nil {
		return nil, errors.New("clock is required")
	}
	return &Store{clk: clk}, nil
}

// OnVoltage registers a callback for supply voltage readings.
func (s *Store) OnVoltage(fn func(float64)) {
	s.mu.Lock()
	s.onVoltage = fn
	s.mu.Unlock()
}

// OnTemperature registers a callback for temperature readings.
func (s *Store) OnTemperature(fn func(float64)) {
	s.mu.Lock()
	s.onTemp = fn
	s.mu.Unlock()
}

// OnBreakerChange registers a callback for wind generator breaker moves.
func (s *Store) OnBreakerChange(fn func()) {
	s.mu.Lock()
	s.onBreakerMov = fn
	s.mu.Unlock()
}

// SetSupplyVoltage records the 12 V rail.
func (s *Store) SetSupplyVoltage(v float64) {
	s.mu.Lock()
	s.supply = v
	fn := s.onVoltage
	s.mu.Unlock()
	if fn != nil {
		fn(v)
	}
}

// SupplyVoltage returns the last 12 V reading.
func (s *Store) SupplyVoltage() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supply
}

// SetTemperature records a temperature in °C.
func (s *Store) SetTemperature(c float64) {
	s.mu.Lock()
	s.temp = c
	s.tempAt = s.clk.NowMs()
	s.tempOK = true
	fn := s.onTemp
	s.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// Temperature returns the last reading unless it is older than TemperatureAge.
func (s *Store) Temperature() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tempOK || s.age(s.tempAt) > TemperatureAge {
		return 0, false
	}
	return s.temp, true
}

// BatteryCapacityAh returns the capacity in Ah, zero when unknown.
func (s *Store) BatteryCapacityAh() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire()
	if !s.capacityOK {
		return 0
	}
	return int(s.capacityMAh / 1000)
}

// WindDisconnected reports whether the wind generator breaker is known open.
func (s *Store) WindDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire()
	return s.breakerOK && s.breakerOpen
}

// TooLow reports whether the station should run at low power. An open
// breaker always means QRP; otherwise the capacity decides with hysteresis.
// known is false when there is no recent reading.
func (s *Store) TooLow() (qrp, known bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire()

	switch {
	case s.breakerOK && s.breakerOpen:
		return true, true
	case !s.capacityOK || s.capacityMAh == 0:
		return false, false
	case !s.qrp && s.capacityMAh < chargeQRP:
		s.qrp = true
	case s.qrp && s.capacityMAh >= chargeQRO:
		s.qrp = false
	}
	return s.qrp, true
}

func (s *Store) age(at uint64) time.Duration {
	return time.Duration(s.clk.NowMs()-at) * time.Millisecond
}

func (s *Store) expire() {
	if s.age(s.lastCharge) > MaxMessageAge {
		s.capacityOK = false
		s.capacityMAh = 0
		s.breakerOK = false
		s.qrp = false
	}
}

// Push parses one line from the charge controller. The value is the field
// after the second comma:
//
//	CAPA,<id>,<mAh>
//	DISJEOL,<id>,On|Off
//	VBAT,<id>,<volts>
//	TEMP,<id>,<celsius>
func (s *Store) Push(line string) error {
	line = strings.TrimSpace(line)
	fields := strings.SplitN(line, ",", 3)
	if len(fields) < 3 {
		return fmt.Errorf("%w: %q", ErrUnknownMessage, line)
	}
	kind, value := fields[0], strings.TrimSpace(fields[2])

	switch kind {
	case "CAPA":
		mah, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: %q: %w", ErrBadValue, line, err)
		}
		s.mu.Lock()
		s.capacityMAh = uint32(mah)
		s.capacityOK = true
		s.lastCharge = s.clk.NowMs()
		s.mu.Unlock()
	case "DISJEOL":
		var open bool
		switch {
		case strings.HasPrefix(value, "On"):
			open = false
		case strings.HasPrefix(value, "Off"):
			open = true
		default:
			return fmt.Errorf("%w: %q", ErrBadValue, line)
		}
		s.mu.Lock()
		moved := s.breakerOK && s.breakerOpen != open
		s.breakerOpen = open
		s.breakerOK = true
		s.lastCharge = s.clk.NowMs()
		fn := s.onBreakerMov
		s.mu.Unlock()
		if moved && fn != nil {
			fn()
		}
	case "VBAT":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %q: %w", ErrBadValue, line, err)
		}
		s.SetSupplyVoltage(v)
	case "TEMP":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %q: %w", ErrBadValue, line, err)
		}
		s.SetTemperature(v)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, kind)
	}
	return nil
}

// Consume reads lines from r until it is exhausted or ctx is cancelled.
// Bad lines are logged and skipped.
func (s *Store) Consume(ctx context.Context, r io.Reader, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := sc.Text()
		if line == "" {
			continue
		}
		if err := s.Push(line); err != nil {
			logger.Debug("telemetry line skipped", "err", err)
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read telemetry: %w", err)
	}
	return nil
}
