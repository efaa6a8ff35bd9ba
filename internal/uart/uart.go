// internal/uart/uart.go
package uart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// ErrNoPort indicates an empty port name
var ErrNoPort = errors.New("serial port name is required")

// DefaultBaud matches the charge controller and debug console.
const DefaultBaud = 9600

// ReadTimeout bounds a single read so line readers notice cancellation.
const ReadTimeout = 2 * time.Second

// Open opens name as 8N1 at baud.
func Open(name string, baud int) (io.ReadWriteCloser, error) {
	if name == "" {
		return nil, ErrNoPort
	}
	if baud <= 0 {
		baud = DefaultBaud
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	if err := port.SetReadTimeout(ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return port, nil
}

// ListPorts returns the serial ports present on the host.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

// Reader turns a port with a read timeout into a blocking reader. Empty
// reads are retried until ctx is done, which ends the stream with io.EOF.
type Reader struct {
	ctx context.Context
	r   io.Reader
}

// NewReader wraps r.
func NewReader(ctx context.Context, r io.Reader) *Reader {
	return &Reader{ctx: ctx, r: r}
}

func (r *Reader) Read(p []byte) (int, error) {
	for {
		if r.ctx.Err() != nil {
			return 0, io.EOF
		}
		n, err := r.r.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
	}
}
