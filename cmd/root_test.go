package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// resetViperForTest clears viper and points the config search at an
// empty home directory.
func resetViperForTest(t *testing.T) string {
	t.Helper()
	viper.Reset()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", "")
	return tmpDir
}

func writeConfig(t *testing.T, home, content string) {
	t.Helper()
	configDir := filepath.Join(home, ".config", "repeaterctl")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

// setFlag changes a persistent flag for one test.
func setFlag(t *testing.T, name, value string) {
	t.Helper()
	flag := rootCmd.PersistentFlags().Lookup(name)
	if flag == nil {
		t.Fatalf("flag %q not found", name)
	}
	if err := flag.Value.Set(value); err != nil {
		t.Fatalf("set %s: %v", name, err)
	}
	flag.Changed = true
	t.Cleanup(func() {
		_ = flag.Value.Set(flag.DefValue)
		flag.Changed = false
	})
}

func TestRootCmd_HasExpectedFlags(t *testing.T) {
	flags := rootCmd.PersistentFlags()

	tests := []struct {
		name         string
		shorthand    string
		defaultValue string
	}{
		{"debug", "D", "false"},
		{"log-level", "l", "info"},
		{"callsign", "c", "HB9G"},
		{"playback-device", "p", "-1"},
		{"capture-device", "i", "-1"},
		{"gpio", "", "false"},
		{"metrics", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := flags.Lookup(tt.name)
			if flag == nil {
				t.Fatalf("flag %q not found", tt.name)
			}
			if flag.Shorthand != tt.shorthand {
				t.Errorf("flag %q shorthand = %q, want %q", tt.name, flag.Shorthand, tt.shorthand)
			}
			if flag.DefValue != tt.defaultValue {
				t.Errorf("flag %q default = %q, want %q", tt.name, flag.DefValue, tt.defaultValue)
			}
			if flag.Usage == "" {
				t.Errorf("flag %q has no description", tt.name)
			}
		})
	}
}

func TestRootCmd_Properties(t *testing.T) {
	if rootCmd.Use != "repeaterctl" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "repeaterctl")
	}
	if rootCmd.Short == "" || rootCmd.Long == "" {
		t.Error("rootCmd descriptions are empty")
	}

	want := map[string]bool{"run": false, "send": false, "sstv": false, "devices": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestRootCmd_HelpOutput(t *testing.T) {
	resetViperForTest(t)

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"--help"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute() with --help error = %v", err)
	}

	output := buf.String()
	for _, want := range []string{"repeaterctl", "--callsign", "run", "send"} {
		if !strings.Contains(output, want) {
			t.Errorf("help output should contain %q", want)
		}
	}
}

func TestBindFlags(t *testing.T) {
	resetViperForTest(t)

	if err := bindFlags(pflag.NewFlagSet("empty", pflag.ContinueOnError)); err == nil {
		t.Error("bindFlags() on an empty flag set should fail")
	}
	if err := bindFlags(rootCmd.PersistentFlags()); err != nil {
		t.Fatalf("bindFlags() error = %v", err)
	}
}

func TestInitConfig(t *testing.T) {
	home := resetViperForTest(t)
	writeConfig(t, home, "callsign: HB9XX\nstats_hour: 21\n")

	initConfig()

	if got := viper.GetString("callsign"); got != "HB9XX" {
		t.Errorf("viper.GetString(callsign) = %q, want HB9XX", got)
	}
	if got := viper.GetInt("stats_hour"); got != 21 {
		t.Errorf("viper.GetInt(stats_hour) = %d, want 21", got)
	}
}

func TestInitConfig_FlagOverridesFile(t *testing.T) {
	home := resetViperForTest(t)
	writeConfig(t, home, "callsign: HB9XX\n")
	setFlag(t, "callsign", "HB9YY")
	setFlag(t, "playback-device", "3")

	initConfig()

	if got := viper.GetString("callsign"); got != "HB9YY" {
		t.Errorf("viper.GetString(callsign) = %q, want HB9YY (flag)", got)
	}
	if got := viper.GetInt("playback_device_index"); got != 3 {
		t.Errorf("viper.GetInt(playback_device_index) = %d, want 3", got)
	}
}

func TestSetup(t *testing.T) {
	home := resetViperForTest(t)
	writeConfig(t, home, "log_level: warn\n")
	initConfig()

	var buf bytes.Buffer
	settings, logger, closer, err := setup(&buf)
	if err != nil {
		t.Fatalf("setup() error = %v", err)
	}
	defer closer.Close()

	if settings.Callsign != "HB9G" {
		t.Errorf("settings.Callsign = %q, want HB9G", settings.Callsign)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("log output = %q", buf.String())
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	home := resetViperForTest(t)
	writeConfig(t, home, "stats_hour: 30\n")

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"run"})

	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for invalid config, got nil")
	}
	if !strings.Contains(err.Error(), "config") || !strings.Contains(err.Error(), "stats_hour") {
		t.Errorf("expected config error, got: %v", err)
	}
}

func TestSend_InvalidSpeed(t *testing.T) {
	home := resetViperForTest(t)
	writeConfig(t, home, "")

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"send", "--speed", "-7", "CQ"})
	t.Cleanup(func() { _ = sendCmd.Flags().Set("speed", "50") })

	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "speed selector") {
		t.Errorf("Execute() error = %v, want speed selector error", err)
	}
}

func TestSend_RequiresText(t *testing.T) {
	resetViperForTest(t)

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"send"})

	if err := rootCmd.Execute(); err == nil {
		t.Error("Execute() without text should fail")
	}
}
