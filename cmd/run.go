// cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ColonelBlimp/repeaterctl/internal/audio"
	"github.com/ColonelBlimp/repeaterctl/internal/clock"
	"github.com/ColonelBlimp/repeaterctl/internal/config"
	"github.com/ColonelBlimp/repeaterctl/internal/controller"
	"github.com/ColonelBlimp/repeaterctl/internal/cw"
	"github.com/ColonelBlimp/repeaterctl/internal/dsp"
	"github.com/ColonelBlimp/repeaterctl/internal/fsm"
	"github.com/ColonelBlimp/repeaterctl/internal/pio"
	"github.com/ColonelBlimp/repeaterctl/internal/recovery"
	"github.com/ColonelBlimp/repeaterctl/internal/sstv"
	"github.com/ColonelBlimp/repeaterctl/internal/stats"
	"github.com/ColonelBlimp/repeaterctl/internal/telemetry"
	"github.com/ColonelBlimp/repeaterctl/internal/uart"
	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the repeater controller",
	Long: `Runs the controller until interrupted. SIGUSR1 forces the long beacon,
SIGUSR2 requests an SSTV test picture.`,
	Args: cobra.NoArgs,
	RunE: runController,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// stationIO is the hardware side of the station.
type stationIO interface {
	pio.Source
	pio.Actuators
}

// station holds every component of a running controller.
type station struct {
	settings *config.Settings
	logger   *log.Logger

	out       *output
	capture   *audio.Capture
	detector  *dsp.ToneDetector
	messages  *cw.Generator
	pictures  *sstv.Generator
	store     *telemetry.Store
	collector *stats.Collector
	registry  *prometheus.Registry
	machine   *fsm.Machine
	ctl       *controller.Controller

	hw      stationIO
	feed    io.ReadWriteCloser
	closers []io.Closer
}

// openStationIO returns the GPIO lines, or a quiet bench station when
// GPIO is disabled.
func openStationIO(s *config.Settings, logger *log.Logger) (stationIO, io.Closer, error) {
	if !s.GPIOEnabled {
		logger.Warn("gpio disabled, station inputs stay idle")
		return pio.NewStatic(), nil, nil
	}
	g, err := pio.OpenGPIO(s.GPIO(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("gpio: %w", err)
	}
	return g, g, nil
}

// newStation builds the components and wires them together. Nothing is
// started.
func newStation(s *config.Settings, logger *log.Logger, hw stationIO) (*station, error) {
	st := &station{settings: s, logger: logger, hw: hw}

	loc, err := s.Location()
	if err != nil {
		return nil, err
	}
	clk := clock.NewSystem()
	wall := clock.NewTimeKeeper(clock.SystemTime{}, clk, loc)

	if st.store, err = telemetry.NewStore(clk); err != nil {
		return nil, err
	}

	st.registry = prometheus.NewRegistry()
	st.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if st.collector, err = stats.NewCollector(s.Stats(version), clk, wall, st.registry); err != nil {
		return nil, err
	}
	st.store.OnVoltage(st.collector.Voltage)
	st.store.OnTemperature(st.collector.Temperature)
	if !s.GPIOEnabled || !s.GPIOLines.WindGeneratorOK.Wired() {
		st.store.OnBreakerChange(st.collector.WindGeneratorMoved)
	}

	st.out = newOutput(s)
	cwOut, err := st.out.writer()
	if err != nil {
		return nil, err
	}
	sstvOut, err := st.out.writer()
	if err != nil {
		return nil, err
	}
	if st.messages, err = cw.NewGenerator(s.Generator(), cwOut, logger); err != nil {
		return nil, err
	}
	if st.pictures, err = sstv.NewGenerator(s.SSTV(), sstvOut, logger); err != nil {
		return nil, err
	}

	if st.detector, err = dsp.NewToneDetector(s.Detector(), clk); err != nil {
		return nil, err
	}
	st.capture = audio.NewCapture(s.Capture())
	st.capture.SetCallback(st.detector.Process)
	st.detector.SetCallback(toneLogger(logger.WithPrefix("dsp"), st.detector))

	if st.machine, err = fsm.New(s.FSM(), clk, st.store, st.collector, logger); err != nil {
		return nil, err
	}

	st.ctl, err = controller.New(s.Controller(), controller.Deps{
		Machine:   st.machine,
		Clock:     clk,
		Wall:      wall,
		Parity:    clock.NewHourParity(clk),
		Sensors:   hw,
		Actuators: hw,
		Detector:  st.detector,
		Messages:  st.messages,
		Pictures:  st.pictures,
		Playback:  st.out.player,
		Power:     st.store,
		Recorder:  st.collector,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// toneLogger logs detector events with the DTMF history.
func toneLogger(logger *log.Logger, d *dsp.ToneDetector) dsp.ToneCallback {
	return func(ev dsp.ToneEvent) {
		h := d.History()
		logger.Debug("tone", "kind", ev.Kind, "code", ev.Code, "history", h[0].String()+h[1].String()+h[2].String())
	}
}

// start opens the audio devices and the telemetry line.
func (st *station) start(ctx context.Context) error {
	if err := st.out.start(ctx); err != nil {
		return err
	}
	st.closers = append(st.closers, st.out)

	if err := st.capture.Init(); err != nil {
		return fmt.Errorf("audio capture: %w", err)
	}
	st.closers = append(st.closers, st.capture)
	if err := st.capture.Start(ctx); err != nil {
		return fmt.Errorf("audio capture: %w", err)
	}

	if port := st.settings.TelemetryPort; port != "" {
		line, err := uart.Open(port, st.settings.TelemetryBaud)
		if err != nil {
			return recovery.NewFault(recovery.FaultSerial, err)
		}
		st.feed = line
		st.closers = append(st.closers, line)
	}
	return nil
}

// run supervises the component loops. The first error stops all of them.
func (st *station) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	goSafe := func(fn func() error) {
		g.Go(func() error {
			defer recovery.HandlePanicFunc(st.ctl.Off)
			return fn()
		})
	}

	goSafe(func() error { return st.messages.Run(gctx) })
	goSafe(func() error { return st.pictures.Run(gctx) })
	goSafe(func() error { return st.detector.Run(gctx) })
	goSafe(func() error { return st.ctl.Run(gctx) })

	if st.feed != nil {
		goSafe(func() error {
			if err := st.store.Consume(gctx, uart.NewReader(gctx, st.feed), st.logger); err != nil {
				return recovery.NewFault(recovery.FaultSerial, err)
			}
			return nil
		})
	}

	if addr := st.settings.MetricsAddr; addr != "" {
		srv := metricsServer(addr, st.registry)
		goSafe(func() error {
			st.logger.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
		goSafe(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sig)
	goSafe(func() error {
		st.handleSignals(gctx, sig)
		return nil
	})

	return ignoreCanceled(g.Wait())
}

func (st *station) handleSignals(ctx context.Context, sig <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-sig:
			switch s {
			case syscall.SIGUSR1:
				st.logger.Info("beacon forced")
				st.ctl.ForceBeacon()
			case syscall.SIGUSR2:
				st.logger.Info("picture requested")
				st.ctl.RequestPicture()
			}
		}
	}
}

// Close releases the devices in reverse order of opening.
func (st *station) Close() error {
	var errs []error
	for i := len(st.closers) - 1; i >= 0; i-- {
		if err := st.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	st.closers = nil
	return errors.Join(errs...)
}

func metricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func runController(cmd *cobra.Command, _ []string) error {
	settings, logger, closer, err := setup(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hw, hwCloser, err := openStationIO(settings, logger)
	if err != nil {
		return err
	}
	if hwCloser != nil {
		defer hwCloser.Close()
	}

	st, err := newStation(settings, logger, hw)
	if err != nil {
		return err
	}
	defer st.Close()

	logger.Info("starting", "callsign", settings.Callsign, "version", version)
	if err := st.start(ctx); err != nil {
		st.ctl.Off()
		return recovery.HandleFault(err, nil)
	}
	return recovery.HandleFault(st.run(ctx), st.ctl.Off)
}
