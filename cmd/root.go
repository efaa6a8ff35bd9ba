// cmd/root.go
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/ColonelBlimp/repeaterctl/internal/config"
	"github.com/ColonelBlimp/repeaterctl/internal/logging"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// version is set at build time with -ldflags "-X .../cmd.version=..."
var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "repeaterctl",
	Short:   "Amateur radio repeater controller",
	Long:    `Drives a voice repeater: CW/PSK beacons, SSTV pictures, 1750 Hz and DTMF access, talk time limits and daily statistics.`,
	Version: version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configFlags maps persistent flags to config keys.
var configFlags = map[string]string{
	"debug":           "debug",
	"log-level":       "log_level",
	"callsign":        "callsign",
	"playback-device": "playback_device_index",
	"capture-device":  "capture_device_index",
	"gpio":            "gpio_enabled",
	"metrics":         "metrics_addr",
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags (override config file)
	flags := rootCmd.PersistentFlags()
	flags.BoolP("debug", "D", false, "enable debug output")
	flags.StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	flags.StringP("callsign", "c", "HB9G", "station callsign")
	flags.IntP("playback-device", "p", -1, "transmitter audio device index (-1 for default)")
	flags.IntP("capture-device", "i", -1, "receiver audio device index (-1 for default)")
	flags.Bool("gpio", false, "drive the station through the GPIO lines")
	flags.String("metrics", "", "address for the prometheus /metrics endpoint")
}

// bindFlags binds the flags that override config keys.
func bindFlags(flags *pflag.FlagSet) error {
	for name, key := range configFlags {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func initConfig() {
	if err := bindFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the settings and builds the root logger. The closer is
// never nil.
func setup(stderr io.Writer) (*config.Settings, *log.Logger, io.Closer, error) {
	settings, err := config.Get()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closer, err := logging.New(settings.Logging(), stderr)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("logging: %w", err)
	}
	return settings, logger, closer, nil
}
