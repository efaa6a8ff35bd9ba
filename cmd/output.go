// cmd/output.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ColonelBlimp/repeaterctl/internal/audio"
	"github.com/ColonelBlimp/repeaterctl/internal/config"
)

// idlePoll is the rate at which the one-shot commands check for the end
// of a transmission.
const idlePoll = 10 * time.Millisecond

// output is the transmitter audio path: one block queue drained by the
// playback device.
type output struct {
	queue    *audio.Queue
	player   *audio.Player
	playback *audio.Playback
	timeout  time.Duration
}

func newOutput(s *config.Settings) *output {
	q := audio.NewQueue(1)
	p := audio.NewPlayer(q)
	return &output{
		queue:    q,
		player:   p,
		playback: audio.NewPlayback(s.Playback(), p),
		timeout:  audio.PushTimeout(s.SampleRate),
	}
}

// writer returns a block writer for one generator.
func (o *output) writer() (*audio.BlockWriter, error) {
	return audio.NewBlockWriter(o.queue, o.timeout)
}

// start opens the playback device. It stops when ctx is cancelled.
func (o *output) start(ctx context.Context) error {
	if err := o.playback.Init(); err != nil {
		return fmt.Errorf("audio playback: %w", err)
	}
	if err := o.playback.Start(ctx); err != nil {
		_ = o.playback.Close()
		return fmt.Errorf("audio playback: %w", err)
	}
	return nil
}

func (o *output) Close() error {
	return o.playback.Close()
}

// waitIdle returns once busy has reported false and the speaker has gone
// quiet. The first poll waits so a just-queued message is seen as busy.
func waitIdle(ctx context.Context, busy func() bool, silent func() bool) error {
	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !busy() && silent() {
				return nil
			}
		}
	}
}

// ignoreCanceled treats a cancelled context as a clean stop.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
