// cmd/send.go
package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ColonelBlimp/repeaterctl/internal/cw"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var sendCmd = &cobra.Command{
	Use:   "send [flags] TEXT...",
	Short: "Transmit a CW or PSK message on the playback device",
	Long: `Renders one message through the transmitter audio path and returns
when it has been played. A positive --speed is the Morse dit length in
milliseconds; -1, -2 and -3 select PSK31, PSK63 and PSK125.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().Float64P("frequency", "f", 700, "carrier frequency in Hz")
	sendCmd.Flags().IntP("speed", "s", 50, "dit length in ms, or -1/-2/-3 for PSK31/63/125")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	freq, _ := cmd.Flags().GetFloat64("frequency")
	speed, _ := cmd.Flags().GetInt("speed")
	mode, err := cw.ModeFromSelector(speed)
	if err != nil {
		return err
	}

	settings, logger, closer, err := setup(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := newOutput(settings)
	w, err := out.writer()
	if err != nil {
		return err
	}
	gen, err := cw.NewGenerator(settings.Generator(), w, logger)
	if err != nil {
		return err
	}
	msg := cw.Message{Text: strings.Join(args, " "), Frequency: freq, Mode: mode}

	if err := out.start(ctx); err != nil {
		return err
	}
	defer out.Close()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error { return gen.Run(runCtx) })
	g.Go(func() error {
		defer cancel()
		if err := gen.Push(runCtx, msg); err != nil {
			return err
		}
		logger.Info("sending", "text", msg.Text, "mode", mode, "freq", freq)
		return waitIdle(runCtx, gen.Busy, out.player.Silent)
	})
	return ignoreCanceled(g.Wait())
}
