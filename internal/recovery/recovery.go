// internal/recovery/recovery.go
package recovery

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
)

// FaultSource identifies the subsystem that raised a fatal fault.
// The numeric values are reported on halt and must stay stable.
type FaultSource int

const (
	FaultMain         FaultSource = 1
	FaultSerial       FaultSource = 4
	FaultMessageQueue FaultSource = 5
	FaultAudioQueue   FaultSource = 6
	FaultPictureQueue FaultSource = 10
)

var faultNames = map[FaultSource]string{
	FaultMain:         "main",
	FaultSerial:       "serial",
	FaultMessageQueue: "message queue",
	FaultAudioQueue:   "audio queue",
	FaultPictureQueue: "picture window queue",
}

func (s FaultSource) String() string {
	if name, ok := faultNames[s]; ok {
		return name
	}
	return fmt.Sprintf("source %d", int(s))
}

// Fault is an unrecoverable condition. Components return it from their run
// loops; the process switches the transmitter off and exits.
type Fault struct {
	Source FaultSource
	Err    error
}

// NewFault wraps err as a fatal fault raised by source.
func NewFault(source FaultSource, err error) *Fault {
	return &Fault{Source: source, Err: err}
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("fault %d (%s)", int(f.Source), f.Source)
	}
	return fmt.Sprintf("fault %d (%s): %v", int(f.Source), f.Source, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// AsFault reports whether err carries a Fault and returns it.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// exit is replaced in tests.
var exit = os.Exit

var stderr io.Writer = os.Stderr

// HandleFault halts the process when err carries a Fault. The cleanup
// function runs first and must leave the hardware in a safe state.
// Errors that are not faults are returned unchanged.
func HandleFault(err error, cleanup func()) error {
	f, ok := AsFault(err)
	if !ok {
		return err
	}
	if cleanup != nil {
		cleanup()
	}
	_, _ = fmt.Fprintf(stderr, "FATAL: %v\n", f)
	exit(int(f.Source) + 10)
	return err
}

// HandlePanic should be deferred at the top of main() or goroutines.
// It logs panic details and exits with code 1.
func HandlePanic() {
	if r := recover(); r != nil {
		_, _ = fmt.Fprintf(stderr, "FATAL: %v\n\nStack trace:\n%s\n", r, debug.Stack())
		exit(1)
	}
}

// HandlePanicFunc logs panic details and calls the provided cleanup function.
func HandlePanicFunc(cleanup func()) {
	if r := recover(); r != nil {
		_, _ = fmt.Fprintf(stderr, "FATAL: %v\n\nStack trace:\n%s\n", r, debug.Stack())
		if cleanup != nil {
			cleanup()
		}
		exit(1)
	}
}
