// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/ColonelBlimp/repeaterctl/internal/audio"
	"github.com/ColonelBlimp/repeaterctl/internal/controller"
	"github.com/ColonelBlimp/repeaterctl/internal/cw"
	"github.com/ColonelBlimp/repeaterctl/internal/dsp"
	"github.com/ColonelBlimp/repeaterctl/internal/fsm"
	"github.com/ColonelBlimp/repeaterctl/internal/logging"
	"github.com/ColonelBlimp/repeaterctl/internal/pio"
	"github.com/ColonelBlimp/repeaterctl/internal/sstv"
	"github.com/ColonelBlimp/repeaterctl/internal/stats"
	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

const (
	AppName       = "repeaterctl"
	ConfigType    = "yaml"
	DefaultConfig = `# Repeater controller configuration

# Audio
sample_rate: 16000          # Transmitter audio rate in Hz
input_sample_rate: 16000    # Receiver audio rate in Hz
playback_device_index: -1   # -1 for default device ('repeaterctl devices' to list)
capture_device_index: -1    # -1 for default device
period_frames: 160          # Capture frames per callback

# Generators
max_message_len: 1024       # Longest CW/PSK message in bytes
message_queue_size: 10      # Messages waiting to be sent
max_symbols: 16384          # Symbol limit per message
queue_timeout_s: 60         # A queue stuck full this long is a fault
sstv_ring_size: 888         # SSTV tone events in flight
sstv_watermark_ms: 100      # Tone time batched per SSTV window

# Tone detector
tone_block_size: 800        # Goertzel block (50 ms at 16 kHz)
dtmf_threshold: 200         # Normalised DTMF strength
tone_1750_threshold: 250    # Normalised 1750 Hz strength
tone_1750_blocks: 3         # Blocks above threshold before the tone counts
dtmf_gap_ms: 2500           # DTMF code history expires after this gap
tone_1750_sustain_ms: 5000  # Long 1750 Hz tone (SSTV mode request)

# Repeater
callsign: "HB9G"
locator: "JN36BK"
altitude: "1628M"
greeting: "BONNE ANNEE"     # Sent instead of the short beacon on January 1st
poll_interval_ms: 10
short_beacon_max_s: 1200    # Idle time before a short beacon
short_beacon_reset_qso_s: 600
qso_73_min: 5
qso_callsign_min: 10
qso_long_id_min: 15
talk_limit_s: 300           # Longest single transmission
blocked_s: 10               # Cool-down after a cutoff
startup_guard_s: 60         # No long beacon right after power-up
stats_hour: 22              # Local hour of the statistics beacon
timezone: "Europe/Zurich"

# Hardware
gpio_enabled: false
gpio_chip: "gpiochip0"
gpio_lines:                 # offset -1 leaves a signal unwired
  squelch: {offset: 6}
  discrim_up: {offset: 8}
  discrim_down: {offset: 11}
  qrp_in: {offset: -1}
  wind_generator_ok: {offset: -1}
  button_1750: {offset: 4, active_low: true}
  button: {offset: 3, active_low: true}
  tx: {offset: 2}
  mod_off: {offset: 5}
  qrp_out: {offset: 9}
  fax: {offset: 10}
  det_1750: {offset: 7}
telemetry_port: ""          # Serial line with supply and temperature readings
telemetry_baud: 9600

# Output
debug: false
log_level: "info"
debug_serial_port: ""       # Mirror the log to a UART
debug_serial_baud: 9600
metrics_addr: ""            # e.g. ":9100" to serve /metrics
stats_banner: "Statistics"
date_format: "%Y-%m-%d"
`
)

// GPIOLines maps station signals to chip offsets.
type GPIOLines struct {
	Squelch         pio.Line `mapstructure:"squelch"`
	DiscrimUp       pio.Line `mapstructure:"discrim_up"`
	DiscrimDown     pio.Line `mapstructure:"discrim_down"`
	QRPIn           pio.Line `mapstructure:"qrp_in"`
	WindGeneratorOK pio.Line `mapstructure:"wind_generator_ok"`
	Button1750      pio.Line `mapstructure:"button_1750"`
	Button          pio.Line `mapstructure:"button"`
	TX              pio.Line `mapstructure:"tx"`
	ModOff          pio.Line `mapstructure:"mod_off"`
	QRPOut          pio.Line `mapstructure:"qrp_out"`
	Fax             pio.Line `mapstructure:"fax"`
	Det1750         pio.Line `mapstructure:"det_1750"`
}

// Settings holds all application configuration
type Settings struct {
	// Audio
	SampleRate          int `mapstructure:"sample_rate"`
	InputSampleRate     int `mapstructure:"input_sample_rate"`
	PlaybackDeviceIndex int `mapstructure:"playback_device_index"`
	CaptureDeviceIndex  int `mapstructure:"capture_device_index"`
	PeriodFrames        int `mapstructure:"period_frames"`

	// Generators
	MaxMessageLen    int `mapstructure:"max_message_len"`
	MessageQueueSize int `mapstructure:"message_queue_size"`
	MaxSymbols       int `mapstructure:"max_symbols"`
	QueueTimeoutS    int `mapstructure:"queue_timeout_s"`
	SSTVRingSize     int `mapstructure:"sstv_ring_size"`
	SSTVWatermarkMs  int `mapstructure:"sstv_watermark_ms"`

	// Tone detector
	ToneBlockSize     int `mapstructure:"tone_block_size"`
	DTMFThreshold     int `mapstructure:"dtmf_threshold"`
	Tone1750Threshold int `mapstructure:"tone_1750_threshold"`
	Tone1750Blocks    int `mapstructure:"tone_1750_blocks"`
	DTMFGapMs         int `mapstructure:"dtmf_gap_ms"`
	Tone1750SustainMs int `mapstructure:"tone_1750_sustain_ms"`

	// Repeater
	Callsign             string `mapstructure:"callsign"`
	Locator              string `mapstructure:"locator"`
	Altitude             string `mapstructure:"altitude"`
	Greeting             string `mapstructure:"greeting"`
	PollIntervalMs       int    `mapstructure:"poll_interval_ms"`
	ShortBeaconMaxS      int    `mapstructure:"short_beacon_max_s"`
	ShortBeaconResetQSOS int    `mapstructure:"short_beacon_reset_qso_s"`
	QSO73Min             int    `mapstructure:"qso_73_min"`
	QSOCallsignMin       int    `mapstructure:"qso_callsign_min"`
	QSOLongIDMin         int    `mapstructure:"qso_long_id_min"`
	TalkLimitS           int    `mapstructure:"talk_limit_s"`
	BlockedS             int    `mapstructure:"blocked_s"`
	StartupGuardS        int    `mapstructure:"startup_guard_s"`
	StatsHour            int    `mapstructure:"stats_hour"`
	Timezone             string `mapstructure:"timezone"`

	// Hardware
	GPIOEnabled   bool      `mapstructure:"gpio_enabled"`
	GPIOChip      string    `mapstructure:"gpio_chip"`
	GPIOLines     GPIOLines `mapstructure:"gpio_lines"`
	TelemetryPort string    `mapstructure:"telemetry_port"`
	TelemetryBaud int       `mapstructure:"telemetry_baud"`

	// Output
	Debug           bool   `mapstructure:"debug"`
	LogLevel        string `mapstructure:"log_level"`
	DebugSerialPort string `mapstructure:"debug_serial_port"`
	DebugSerialBaud int    `mapstructure:"debug_serial_baud"`
	MetricsAddr     string `mapstructure:"metrics_addr"`
	StatsBanner     string `mapstructure:"stats_banner"`
	DateFormat      string `mapstructure:"date_format"`
}

func setDefaults() {
	viper.SetDefault("sample_rate", 16000)
	viper.SetDefault("input_sample_rate", 16000)
	viper.SetDefault("playback_device_index", -1)
	viper.SetDefault("capture_device_index", -1)
	viper.SetDefault("period_frames", 160)

	viper.SetDefault("max_message_len", 1024)
	viper.SetDefault("message_queue_size", 10)
	viper.SetDefault("max_symbols", 16384)
	viper.SetDefault("queue_timeout_s", 60)
	viper.SetDefault("sstv_ring_size", 888)
	viper.SetDefault("sstv_watermark_ms", 100)

	viper.SetDefault("tone_block_size", 800)
	viper.SetDefault("dtmf_threshold", 200)
	viper.SetDefault("tone_1750_threshold", 250)
	viper.SetDefault("tone_1750_blocks", 3)
	viper.SetDefault("dtmf_gap_ms", 2500)
	viper.SetDefault("tone_1750_sustain_ms", 5000)

	viper.SetDefault("callsign", "HB9G")
	viper.SetDefault("locator", "JN36BK")
	viper.SetDefault("altitude", "1628M")
	viper.SetDefault("greeting", "BONNE ANNEE")
	viper.SetDefault("poll_interval_ms", 10)
	viper.SetDefault("short_beacon_max_s", 1200)
	viper.SetDefault("short_beacon_reset_qso_s", 600)
	viper.SetDefault("qso_73_min", 5)
	viper.SetDefault("qso_callsign_min", 10)
	viper.SetDefault("qso_long_id_min", 15)
	viper.SetDefault("talk_limit_s", 300)
	viper.SetDefault("blocked_s", 10)
	viper.SetDefault("startup_guard_s", 60)
	viper.SetDefault("stats_hour", 22)
	viper.SetDefault("timezone", "Europe/Zurich")

	viper.SetDefault("gpio_enabled", false)
	viper.SetDefault("gpio_chip", "gpiochip0")
	for name, offset := range map[string]int{
		"squelch": 6, "discrim_up": 8, "discrim_down": 11, "qrp_in": -1,
		"wind_generator_ok": -1, "button_1750": 4, "button": 3, "tx": 2,
		"mod_off": 5, "qrp_out": 9, "fax": 10, "det_1750": 7,
	} {
		viper.SetDefault("gpio_lines."+name+".offset", offset)
	}
	viper.SetDefault("gpio_lines.button_1750.active_low", true)
	viper.SetDefault("gpio_lines.button.active_low", true)
	viper.SetDefault("telemetry_port", "")
	viper.SetDefault("telemetry_baud", 9600)

	viper.SetDefault("debug", false)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("debug_serial_port", "")
	viper.SetDefault("debug_serial_baud", 9600)
	viper.SetDefault("metrics_addr", "")
	viper.SetDefault("stats_banner", "Statistics")
	viper.SetDefault("date_format", "%Y-%m-%d")
}

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/repeaterctl/
func Init() error {
	setDefaults()

	viper.SetConfigType(ConfigType)
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	// .config.yaml first, then config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("read config: %w", err)
		}
		if err = ensureConfigExists(filepath.Join(configDir, AppName)); err != nil {
			return err
		}
		if err = viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

func positive(errs []error, key string, v int) []error {
	if v <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, v))
	}
	return errs
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	// Audio
	if s.SampleRate < 8000 || s.SampleRate > 48000 {
		errs = append(errs, fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", s.SampleRate))
	}
	if s.InputSampleRate < 8000 || s.InputSampleRate > 48000 {
		errs = append(errs, fmt.Errorf("input_sample_rate must be between 8000 and 48000 Hz, got %d", s.InputSampleRate))
	}
	if s.PeriodFrames < 16 || s.PeriodFrames > 8192 {
		errs = append(errs, fmt.Errorf("period_frames must be between 16 and 8192, got %d", s.PeriodFrames))
	}

	// Generators
	if s.MaxMessageLen < 1 || s.MaxMessageLen > 4096 {
		errs = append(errs, fmt.Errorf("max_message_len must be between 1 and 4096, got %d", s.MaxMessageLen))
	}
	errs = positive(errs, "message_queue_size", s.MessageQueueSize)
	errs = positive(errs, "max_symbols", s.MaxSymbols)
	errs = positive(errs, "queue_timeout_s", s.QueueTimeoutS)
	if s.SSTVRingSize < 16 {
		errs = append(errs, fmt.Errorf("sstv_ring_size must be at least 16, got %d", s.SSTVRingSize))
	}
	errs = positive(errs, "sstv_watermark_ms", s.SSTVWatermarkMs)

	// Tone detector
	if s.ToneBlockSize < 64 || s.ToneBlockSize > 8192 {
		errs = append(errs, fmt.Errorf("tone_block_size must be between 64 and 8192, got %d", s.ToneBlockSize))
	}
	errs = positive(errs, "dtmf_threshold", s.DTMFThreshold)
	errs = positive(errs, "tone_1750_threshold", s.Tone1750Threshold)
	errs = positive(errs, "tone_1750_blocks", s.Tone1750Blocks)
	errs = positive(errs, "dtmf_gap_ms", s.DTMFGapMs)
	errs = positive(errs, "tone_1750_sustain_ms", s.Tone1750SustainMs)
	// Nyquist: the highest bin is the 1750 Hz call tone
	if float64(s.InputSampleRate)/2 <= dsp.ToneFrequencies[dsp.Tone1750] {
		errs = append(errs, fmt.Errorf("input_sample_rate (%d Hz) is too low for the 1750 Hz tone", s.InputSampleRate))
	}

	// Repeater
	if s.Callsign == "" {
		errs = append(errs, errors.New("callsign is required"))
	}
	if s.PollIntervalMs < 1 || s.PollIntervalMs > 100 {
		errs = append(errs, fmt.Errorf("poll_interval_ms must be between 1 and 100, got %d", s.PollIntervalMs))
	}
	errs = positive(errs, "short_beacon_max_s", s.ShortBeaconMaxS)
	errs = positive(errs, "short_beacon_reset_qso_s", s.ShortBeaconResetQSOS)
	errs = positive(errs, "talk_limit_s", s.TalkLimitS)
	errs = positive(errs, "blocked_s", s.BlockedS)
	if s.StartupGuardS < 0 {
		errs = append(errs, fmt.Errorf("startup_guard_s must not be negative, got %d", s.StartupGuardS))
	}
	if s.QSO73Min <= 0 || s.QSO73Min > s.QSOCallsignMin || s.QSOCallsignMin > s.QSOLongIDMin {
		errs = append(errs, fmt.Errorf("qso_73_min, qso_callsign_min and qso_long_id_min must be positive and ascending, got %d/%d/%d",
			s.QSO73Min, s.QSOCallsignMin, s.QSOLongIDMin))
	}
	if s.StatsHour < 0 || s.StatsHour > 23 {
		errs = append(errs, fmt.Errorf("stats_hour must be between 0 and 23, got %d", s.StatsHour))
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", s.Timezone, err))
	}

	// Hardware
	if s.GPIOEnabled && s.GPIOChip == "" {
		errs = append(errs, errors.New("gpio_chip is required when gpio_enabled is set"))
	}
	if s.TelemetryPort != "" {
		errs = positive(errs, "telemetry_baud", s.TelemetryBaud)
	}

	// Output
	if _, err := log.ParseLevel(s.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error, fatal, got %q", s.LogLevel))
	}
	if s.DebugSerialPort != "" {
		errs = positive(errs, "debug_serial_baud", s.DebugSerialBaud)
	}

	return errors.Join(errs...)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
func millis(n int) time.Duration  { return time.Duration(n) * time.Millisecond }

// FSM returns the repeater state machine settings.
func (s *Settings) FSM() fsm.Config {
	return fsm.Config{
		Callsign:         s.Callsign,
		Locator:          s.Locator,
		Altitude:         s.Altitude,
		Greeting:         s.Greeting,
		ShortBeaconMax:   seconds(s.ShortBeaconMaxS),
		ShortBeaconReset: seconds(s.ShortBeaconResetQSOS),
		QSO73:            time.Duration(s.QSO73Min) * time.Minute,
		QSOCallsign:      time.Duration(s.QSOCallsignMin) * time.Minute,
		QSOLongID:        time.Duration(s.QSOLongIDMin) * time.Minute,
		TalkLimit:        seconds(s.TalkLimitS),
		BlockedFor:       seconds(s.BlockedS),
		StartupGuard:     seconds(s.StartupGuardS),
	}
}

// Generator returns the CW/PSK generator settings.
func (s *Settings) Generator() cw.GeneratorConfig {
	return cw.GeneratorConfig{
		SampleRate:    s.SampleRate,
		MaxMessageLen: s.MaxMessageLen,
		QueueSize:     s.MessageQueueSize,
		MaxSymbols:    s.MaxSymbols,
		QueueTimeout:  seconds(s.QueueTimeoutS),
	}
}

// SSTV returns the picture generator settings.
func (s *Settings) SSTV() sstv.Config {
	return sstv.Config{
		SampleRate:     s.SampleRate,
		RingSize:       s.SSTVRingSize,
		Watermark:      millis(s.SSTVWatermarkMs),
		HandoffTimeout: seconds(s.QueueTimeoutS),
	}
}

// Detector returns the receiver tone detector settings.
func (s *Settings) Detector() dsp.DetectorConfig {
	return dsp.DetectorConfig{
		SampleRate:    float64(s.InputSampleRate),
		BlockSize:     s.ToneBlockSize,
		DTMFThreshold: int32(s.DTMFThreshold),
		Threshold1750: int32(s.Tone1750Threshold),
		Blocks1750:    s.Tone1750Blocks,
		DTMFGap:       millis(s.DTMFGapMs),
		Sustain1750:   millis(s.Tone1750SustainMs),
	}
}

// Playback returns the transmitter audio device settings.
func (s *Settings) Playback() audio.Config {
	cfg := audio.DefaultPlaybackConfig()
	cfg.DeviceIndex = s.PlaybackDeviceIndex
	cfg.SampleRate = uint32(s.SampleRate)
	return cfg
}

// Capture returns the receiver audio device settings.
func (s *Settings) Capture() audio.Config {
	cfg := audio.DefaultCaptureConfig()
	cfg.DeviceIndex = s.CaptureDeviceIndex
	cfg.SampleRate = uint32(s.InputSampleRate)
	cfg.BufferSize = uint32(s.PeriodFrames)
	return cfg
}

// Controller returns the polling loop settings.
func (s *Settings) Controller() controller.Config {
	cfg := controller.DefaultConfig()
	cfg.Tick = millis(s.PollIntervalMs)
	cfg.StatsHour = s.StatsHour
	return cfg
}

// Stats returns the statistics collector settings.
func (s *Settings) Stats(version string) stats.Config {
	return stats.Config{
		Callsign:   s.Callsign,
		Banner:     s.StatsBanner,
		Version:    version,
		DateFormat: s.DateFormat,
	}
}

// GPIO returns the line map for the station hardware.
func (s *Settings) GPIO() pio.GPIOConfig {
	l := s.GPIOLines
	return pio.GPIOConfig{
		Chip:            s.GPIOChip,
		Squelch:         l.Squelch,
		DiscrimUp:       l.DiscrimUp,
		DiscrimDown:     l.DiscrimDown,
		QRPIn:           l.QRPIn,
		WindGeneratorOK: l.WindGeneratorOK,
		Button1750:      l.Button1750,
		Button:          l.Button,
		TX:              l.TX,
		ModOff:          l.ModOff,
		QRPOut:          l.QRPOut,
		Fax:             l.Fax,
		Det1750:         l.Det1750,
	}
}

// Logging returns the logger options.
func (s *Settings) Logging() logging.Options {
	return logging.Options{
		Level:      s.LogLevel,
		Debug:      s.Debug,
		SerialPort: s.DebugSerialPort,
		SerialBaud: s.DebugSerialBaud,
	}
}

// Location returns the station time zone.
func (s *Settings) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}
