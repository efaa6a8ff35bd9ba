// internal/fsm/text.go
package fsm

import (
	"fmt"
	"math"
	"strings"
)

const (
	// preDelay keys the transmitter up before the first character
	preDelay = "      "
	// postDelay keeps the last character from being cut off
	postDelay = "  "
)

// Status letters sent between QSO turns.
const (
	letterOK       = "K"
	letterSSTV     = "S"
	letterQRP      = "G"
	letterFreqHigh = "U"
	letterFreqLow  = "D"
	letterSWRHigh  = "R"
)

const lfsrSeed uint16 = 0x12AB

// lfsr is a 16-bit Fibonacci shift register with taps 16 14 13 11.
type lfsr struct {
	state uint16
}

func newLFSR() *lfsr {
	return &lfsr{state: lfsrSeed}
}

func (l *lfsr) bool() bool {
	bit := (l.state ^ l.state>>2 ^ l.state>>3 ^ l.state>>5) & 1
	l.state = l.state>>1 | bit<<15
	return bit == 1
}

func (l *lfsr) intn4() int {
	n := 0
	if l.bool() {
		n = 2
	}
	if l.bool() {
		n++
	}
	return n
}

func roundHalf(v float64) float64 {
	return 0.5 * math.Round(v*2)
}

// volts formats a supply voltage as "12V5".
func volts(v float64) string {
	dv := int(roundHalf(v) * 10)
	return fmt.Sprintf("%dV%d", dv/10, dv%10)
}

// selectLetter picks the status letter, highest priority first.
func selectLetter(in Inputs, sstv SSTVState) string {
	switch {
	case in.SWRHigh:
		return letterSWRHigh
	case in.DiscrimDown:
		return letterFreqLow
	case in.DiscrimUp:
		return letterFreqHigh
	case in.QRP:
		return letterQRP
	case sstv == SSTVOn:
		return letterSSTV
	default:
		return letterOK
	}
}

// endOfLine closes a beacon: "\" is the SK prosign.
func endOfLine(in Inputs, tel Telemetry, continues bool) string {
	switch {
	case continues:
		return "PSK125"
	case tel.WindDisconnected():
		return "EOL \\"
	case !in.WindGeneratorOK:
		return "\\"
	default:
		return "73"
	}
}

type beaconBuilder struct {
	cfg            Config
	tel            Telemetry
	rng            *lfsr
	lastCapacityAh int
}

func (b *beaconBuilder) shortBeacon(newYear bool) string {
	call := b.cfg.Callsign
	if newYear {
		return preDelay + call + "  " + b.cfg.Greeting + postDelay
	}
	var body string
	switch b.rng.intn4() {
	case 0:
		body = call
	case 1:
		body = call + " " + b.cfg.Locator
	case 2:
		body = call + " " + b.cfg.Altitude
	default:
		body = call + " " + b.cfg.Locator + "  " + b.cfg.Altitude
	}
	return preDelay + body + postDelay
}

func (b *beaconBuilder) longID() string {
	if b.rng.bool() {
		return " " + b.cfg.Callsign + " " + b.cfg.Altitude + postDelay
	}
	return " " + b.cfg.Callsign + " " + b.cfg.Locator + postDelay
}

// longBeacon reports supply voltage, battery capacity with its trend since
// the previous long beacon, and temperature.
func (b *beaconBuilder) longBeacon(eol string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s%s %s  U %s ", preDelay, b.cfg.Callsign, b.cfg.Locator, volts(b.tel.SupplyVoltage()))

	if ah := b.tel.BatteryCapacityAh(); ah != 0 {
		trend := '='
		switch {
		case b.lastCapacityAh < ah:
			trend = '+'
		case b.lastCapacityAh > ah:
			trend = '-'
		}
		b.lastCapacityAh = ah
		fmt.Fprintf(&sb, " %d AH %c ", ah, trend)
	}
	b.temperature(&sb)
	sb.WriteString(eol + postDelay)
	return sb.String()
}

// specialBeacon is the low power variant, without locator or trend.
func (b *beaconBuilder) specialBeacon(eol string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s%s U %s ", preDelay, b.cfg.Callsign, volts(b.tel.SupplyVoltage()))
	if ah := b.tel.BatteryCapacityAh(); ah != 0 {
		fmt.Fprintf(&sb, " %d AH ", ah)
	}
	b.temperature(&sb)
	sb.WriteString(eol + postDelay)
	return sb.String()
}

func (b *beaconBuilder) temperature(sb *strings.Builder) {
	if t, ok := b.tel.Temperature(); ok {
		fmt.Fprintf(sb, " T %d ", int(roundHalf(t)))
	}
}
