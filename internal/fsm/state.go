// internal/fsm/state.go
package fsm

import "fmt"

// State is the main repeater state.
type State int

const (
	Idle State = iota
	OpenSquelch1
	OpenSquelch2
	SendLetter
	Listening
	Waiting
	QsoActive
	TooLongCutoff
	Blocked
	Send73
	SendCallsign
	SendLongID
	LongBeacon
	StatsBeacon1
	StatsBeacon2
	StatsBeacon3
	SpecialBeacon
	SpecialBeaconStats1
	SpecialBeaconStats2
	SpecialBeaconStats3
	ShortBeacon
	ShortBeaconOpen
	numStates
)

var stateNames = [numStates]string{
	Idle:                "Idle",
	OpenSquelch1:        "OpenSquelch1",
	OpenSquelch2:        "OpenSquelch2",
	SendLetter:          "SendLetter",
	Listening:           "Listening",
	Waiting:             "Waiting",
	QsoActive:           "QsoActive",
	TooLongCutoff:       "TooLongCutoff",
	Blocked:             "Blocked",
	Send73:              "Send73",
	SendCallsign:        "SendCallsign",
	SendLongID:          "SendLongId",
	LongBeacon:          "LongBeacon",
	StatsBeacon1:        "StatsBeacon1",
	StatsBeacon2:        "StatsBeacon2",
	StatsBeacon3:        "StatsBeacon3",
	SpecialBeacon:       "SpecialBeacon",
	SpecialBeaconStats1: "SpecialBeaconStats1",
	SpecialBeaconStats2: "SpecialBeaconStats2",
	SpecialBeaconStats3: "SpecialBeaconStats3",
	ShortBeacon:         "ShortBeacon",
	ShortBeaconOpen:     "ShortBeaconOpen",
}

func (s State) String() string {
	if s < 0 || s >= numStates {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// valid reports whether s is one of the defined states.
func (s State) valid() bool {
	return s >= 0 && s < numStates
}

// BeaconState tracks the two-hour long beacon cadence.
type BeaconState int

const (
	EvenHour BeaconState = iota
	OddHour
	BeaconPending
)

func (s BeaconState) String() string {
	switch s {
	case EvenHour:
		return "EvenHour"
	case OddHour:
		return "OddHour"
	case BeaconPending:
		return "Pending"
	default:
		return fmt.Sprintf("BeaconState(%d)", int(s))
	}
}

// SSTVState gates whether an open squelch starts slow-scan mode.
type SSTVState int

const (
	SSTVOff SSTVState = iota
	SSTVOn
)

func (s SSTVState) String() string {
	switch s {
	case SSTVOff:
		return "Off"
	case SSTVOn:
		return "On"
	default:
		return fmt.Sprintf("SSTVState(%d)", int(s))
	}
}
