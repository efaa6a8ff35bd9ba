// internal/logging/logging.go
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ColonelBlimp/repeaterctl/internal/uart"
)

// Options selects the log level and destinations.
type Options struct {
	// Level is one of debug, info, warn, error
	Level string
	// Debug forces the debug level
	Debug bool
	// SerialPort mirrors every line to a UART when set
	SerialPort string
	SerialBaud int
}

// openPort is replaced in tests.
var openPort = uart.Open

// New builds the root logger. The returned closer releases the UART and
// is never nil.
func New(opts Options, stderr io.Writer) (*log.Logger, io.Closer, error) {
	if stderr == nil {
		stderr = os.Stderr
	}

	level := log.InfoLevel
	if opts.Level != "" {
		l, err := log.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		level = l
	}
	if opts.Debug {
		level = log.DebugLevel
	}

	var (
		w      = stderr
		closer io.Closer = nopCloser{}
	)
	if opts.SerialPort != "" {
		port, err := openPort(opts.SerialPort, opts.SerialBaud)
		if err != nil {
			return nil, nil, fmt.Errorf("debug serial: %w", err)
		}
		w = io.MultiWriter(stderr, port)
		closer = port
	}

	logger := log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
