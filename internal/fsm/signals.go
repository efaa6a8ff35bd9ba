// internal/fsm/signals.go
package fsm

import "github.com/ColonelBlimp/repeaterctl/internal/cw"

// Inputs is the snapshot of sensed conditions for one tick.
type Inputs struct {
	Squelch     bool
	DiscrimUp   bool
	DiscrimDown bool
	QRP         bool
	SWRHigh     bool
	// WindGeneratorOK is false while the wind generator is folded away
	WindGeneratorOK bool
	HourIsEven      bool
	// Button1750 is the front-panel button that opens the repeater
	Button1750 bool
	Tone1750   bool
	// Long1750 is a 1750 Hz tone held for several seconds
	Long1750 bool
	// FaxMode is the DTMF sequence that arms slow-scan mode
	FaxMode      bool
	MessageDone  bool
	SendStats    bool
	HappyNewYear bool
	// PictureRequest asks for the SSTV test picture while idle
	PictureRequest bool
}

// Outputs is produced on every tick. Consumers copy it.
type Outputs struct {
	TxOn       bool
	Modulation bool
	Message    string
	Frequency  float64
	Mode       cw.Mode
	// Picture routes the trigger to the SSTV generator
	Picture bool
	// Trigger is high for exactly one tick per message
	Trigger             bool
	RequireToneDetector bool
}

// Telemetry supplies the values for the long beacon.
type Telemetry interface {
	SupplyVoltage() float64
	// BatteryCapacityAh is zero when unknown.
	BatteryCapacityAh() int
	Temperature() (float64, bool)
	WindDisconnected() bool
}

// StatsProvider supplies the statistics block and counts beacon events.
type StatsProvider interface {
	StatsText(windDisconnected bool) string
	BeaconSent()
	CutoffTriggered()
}
