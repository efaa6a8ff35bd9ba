// internal/audio/block.go
package audio

import (
	"context"
	"errors"
	"time"
)

// BlockLen is the number of int16 samples in one output block: 2048
// stereo frames, interleaved left/right.
const BlockLen = 4096

// Channels is the output channel count.
const Channels = 2

var (
	// ErrQueueTimeout indicates the consumer did not take a block in time
	ErrQueueTimeout = errors.New("audio queue push timed out")
	// ErrQueueRequired indicates a queue instance is required
	ErrQueueRequired = errors.New("audio queue is required")
)

// Block is a fixed-size chunk of interleaved stereo samples.
type Block [BlockLen]int16

// Queue hands blocks from a generator to the playback device.
type Queue struct {
	ch chan Block
}

// NewQueue returns a queue holding at most capacity blocks.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan Block, capacity)}
}

// Push waits up to timeout for room in the queue.
func (q *Queue) Push(ctx context.Context, b *Block, timeout time.Duration) error {
	select {
	case q.ch <- *b:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case q.ch <- *b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrQueueTimeout
	}
}

// TryPop copies the next block into dst without waiting.
func (q *Queue) TryPop(dst *Block) bool {
	select {
	case b := <-q.ch:
		*dst = b
		return true
	default:
		return false
	}
}

// Len returns the number of blocks waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// PushTimeout is the time a producer waits for the consumer: four block
// durations at sampleRate.
func PushTimeout(sampleRate int) time.Duration {
	return time.Duration(4000*BlockLen/Channels/sampleRate) * time.Millisecond
}

// BlockWriter packs mono samples into stereo blocks and pushes each block
// as soon as it is full. There is exactly one in-flight block per writer.
type BlockWriter struct {
	queue   *Queue
	timeout time.Duration
	buf     Block
	pos     int
	pushed  int
}

// NewBlockWriter returns a writer feeding q.
func NewBlockWriter(q *Queue, timeout time.Duration) (*BlockWriter, error) {
	if q == nil {
		return nil, ErrQueueRequired
	}
	return &BlockWriter{queue: q, timeout: timeout}, nil
}

// Write duplicates sample onto both channels.
func (w *BlockWriter) Write(ctx context.Context, sample int16) error {
	w.buf[w.pos] = sample
	w.buf[w.pos+1] = sample
	w.pos += Channels
	if w.pos < BlockLen {
		return nil
	}
	return w.push(ctx)
}

// Flush zero-pads the partial block and pushes it. Nothing is pushed when
// the writer is empty.
func (w *BlockWriter) Flush(ctx context.Context) error {
	if w.pos == 0 {
		return nil
	}
	clear(w.buf[w.pos:])
	return w.push(ctx)
}

func (w *BlockWriter) push(ctx context.Context) error {
	w.pos = 0
	if err := w.queue.Push(ctx, &w.buf, w.timeout); err != nil {
		return err
	}
	w.pushed++
	return nil
}

// Pushed returns the number of blocks handed to the queue.
func (w *BlockWriter) Pushed() int {
	return w.pushed
}
