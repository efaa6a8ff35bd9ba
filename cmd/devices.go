// cmd/devices.go
package cmd

import (
	"fmt"
	"io"

	"github.com/ColonelBlimp/repeaterctl/internal/audio"
	"github.com/ColonelBlimp/repeaterctl/internal/uart"
	"github.com/gen2brain/malgo"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio devices and serial ports",
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func printDevices(w io.Writer, title string, devices []malgo.DeviceInfo) {
	fmt.Fprintf(w, "%s:\n", title)
	if len(devices) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for i, d := range devices {
		mark := " "
		if d.IsDefault != 0 {
			mark = "*"
		}
		fmt.Fprintf(w, " %s%2d  %s\n", mark, i, d.Name())
	}
}

func runDevices(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	capture := audio.NewCapture(audio.DefaultCaptureConfig())
	if err := capture.Init(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	defer capture.Close()

	inputs, err := capture.ListDevices()
	if err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	printDevices(out, "Capture devices", inputs)

	playback := audio.NewPlayback(audio.DefaultPlaybackConfig(), nil)
	if err := playback.Init(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	defer playback.Close()

	outputs, err := playback.ListDevices()
	if err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	printDevices(out, "Playback devices", outputs)

	ports, err := uart.ListPorts()
	if err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	fmt.Fprintln(out, "Serial ports:")
	if len(ports) == 0 {
		fmt.Fprintln(out, "  (none)")
	}
	for _, p := range ports {
		fmt.Fprintf(out, "   %s\n", p)
	}
	return nil
}
