// cmd/sstv.go
package cmd

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/signal"
	"syscall"

	"github.com/ColonelBlimp/repeaterctl/internal/sstv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var sstvCmd = &cobra.Command{
	Use:   "sstv [IMAGE]",
	Short: "Transmit a Martin M1 picture on the playback device",
	Long: `Sends IMAGE (PNG or JPEG, scaled to 320x256) or the built-in test
pattern as a Martin M1 slow-scan picture.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSSTV,
}

func init() {
	rootCmd.AddCommand(sstvCmd)
}

func loadImage(path string) (image.Image, error) {
	if path == "" {
		return sstv.TestPattern{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func runSSTV(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	}
	img, err := loadImage(path)
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
	gen, err := sstv.NewGenerator(settings.SSTV(), w, logger)
	if err != nil {
		return err
	}

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
		if err := gen.SendImage(runCtx, img); err != nil {
			return err
		}
		return waitIdle(runCtx, gen.Busy, out.player.Silent)
	})
	return ignoreCanceled(g.Wait())
}
