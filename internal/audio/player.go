// internal/audio/player.go
package audio

import "sync/atomic"

// silentAfter is the number of consecutive empty block periods before the
// output is reported silent.
const silentAfter = 3

// Player drains a Queue into a device buffer of arbitrary size. When no
// block is waiting it plays a block of silence.
type Player struct {
	queue *Queue

	cur        Block
	pos        int
	emptyCount int
	silent     atomic.Bool
	// popping covers the gap between taking a block off the queue and
	// clearing silent
	popping atomic.Bool
}

// NewPlayer returns a player reading from q. It starts silent.
func NewPlayer(q *Queue) *Player {
	p := &Player{queue: q, pos: BlockLen, emptyCount: silentAfter}
	p.silent.Store(true)
	return p
}

// Read fills out with interleaved stereo samples.
func (p *Player) Read(out []int16) {
	for i := range out {
		if p.pos == BlockLen {
			p.next()
		}
		out[i] = p.cur[p.pos]
		p.pos++
	}
}

func (p *Player) next() {
	p.pos = 0
	if p.queue.Len() > 0 {
		p.popping.Store(true)
		ok := p.queue.TryPop(&p.cur)
		if ok {
			p.emptyCount = 0
			p.silent.Store(false)
		}
		p.popping.Store(false)
		if ok {
			return
		}
	}
	clear(p.cur[:])
	if p.emptyCount < silentAfter {
		p.emptyCount++
	}
	if p.emptyCount >= silentAfter {
		p.silent.Store(true)
	}
}

// Silent reports whether only silence has been played for the last few
// block periods and nothing is waiting, i.e. everything generated has
// left the speaker.
func (p *Player) Silent() bool {
	// queue, then popping, then silent: the reverse of the order next
	// updates them
	if p.queue.Len() != 0 || p.popping.Load() {
		return false
	}
	return p.silent.Load()
}
