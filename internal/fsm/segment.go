// internal/fsm/segment.go
package fsm

type segmentState int

const (
	awaitingTrigger segmentState = iota
	sent
	awaitingClear
)

// segment is the life of one message inside a sending state. The trigger
// fires once, and completion is only accepted after it fired, so a done
// pulse left over from the previous message cannot skip this one.
type segment struct {
	state segmentState
}

func (s *segment) reset() {
	s.state = awaitingTrigger
}

// fire reports whether the message goes out on this tick.
func (s *segment) fire() bool {
	if s.state != awaitingTrigger {
		return false
	}
	s.state = sent
	return true
}

func (s *segment) complete(done bool) bool {
	if s.state != sent || !done {
		return false
	}
	s.state = awaitingClear
	return true
}
