// internal/fsm/beacon.go
package fsm

import "time"

// UpdateBeacon advances the two-hour long beacon cadence. The beacon is
// armed on the odd to even hour transition, except during the startup
// guard, and disarmed once one of the long beacons has gone out.
func (m *Machine) UpdateBeacon() {
	next := m.beacon

	switch m.beacon {
	case EvenHour:
		if !m.in.HourIsEven {
			next = OddHour
		}
	case OddHour:
		if m.in.HourIsEven {
			uptime := time.Duration(m.clk.NowMs()-m.bootMs) * time.Millisecond
			if uptime > m.cfg.StartupGuard {
				next = BeaconPending
			} else {
				next = EvenHour
			}
		}
	case BeaconPending:
		switch m.state {
		case SpecialBeacon, LongBeacon, StatsBeacon3, SpecialBeaconStats3:
			next = EvenHour
		}
	default:
		next = EvenHour
	}

	m.switchBeacon(next)
}

func (m *Machine) switchBeacon(next BeaconState) {
	if next == m.beacon {
		return
	}
	m.logger.Info("beacon switched", "from", m.beacon, "to", next)
	m.beacon = next
}

// UpdateSSTV arms slow-scan mode on the DTMF sequence with an open
// squelch. Beacons, a cutoff or a long 1750 Hz tone disarm it. It reports
// whether slow-scan mode is on.
func (m *Machine) UpdateSSTV() bool {
	next := m.sstv

	switch m.sstv {
	case SSTVOff:
		if m.in.Squelch && m.in.FaxMode {
			next = SSTVOn
		}
	case SSTVOn:
		switch m.state {
		case LongBeacon, StatsBeacon1, SpecialBeacon, SpecialBeaconStats1, TooLongCutoff:
			next = SSTVOff
		}
		if m.in.Long1750 {
			next = SSTVOff
		}
	default:
		next = SSTVOff
	}

	if next != m.sstv {
		m.logger.Info("sstv switched", "from", m.sstv, "to", next)
		m.sstv = next
	}
	return m.sstv == SSTVOn
}
