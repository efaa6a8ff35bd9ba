package recovery

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubExit captures the exit code instead of terminating the test binary.
func stubExit(t *testing.T) (*int, *bytes.Buffer) {
	t.Helper()
	code := -1
	var buf bytes.Buffer
	origExit, origStderr := exit, stderr
	exit = func(c int) { code = c }
	stderr = &buf
	t.Cleanup(func() {
		exit, stderr = origExit, origStderr
	})
	return &code, &buf
}

func TestHandlePanic_NoPanic(t *testing.T) {
	func() {
		defer HandlePanic()
	}()
}

func TestHandlePanicFunc_NoPanic(t *testing.T) {
	cleanupCalled := false

	func() {
		defer HandlePanicFunc(func() {
			cleanupCalled = true
		})
	}()

	if cleanupCalled {
		t.Error("cleanup was called without a panic")
	}
}

func TestHandlePanicFunc_RunsCleanup(t *testing.T) {
	code, out := stubExit(t)
	cleanupCalled := false

	func() {
		defer HandlePanicFunc(func() {
			cleanupCalled = true
		})
		panic("boom")
	}()

	assert.True(t, cleanupCalled)
	assert.Equal(t, 1, *code)
	assert.Contains(t, out.String(), "boom")
}

// TestHandlePanic_ExitsOnPanic uses a subprocess to test panic behavior
func TestHandlePanic_ExitsOnPanic(t *testing.T) {
	if os.Getenv("TEST_PANIC_EXIT") == "1" {
		defer HandlePanic()
		panic("test panic")
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestHandlePanic_ExitsOnPanic")
	cmd.Env = append(os.Environ(), "TEST_PANIC_EXIT=1")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() != 1 {
			t.Errorf("exit code = %d, want 1", exitErr.ExitCode())
		}
	} else if err == nil {
		t.Error("expected process to exit with error, but it succeeded")
	}

	output := stderr.String()
	for _, want := range []string{"FATAL", "test panic", "Stack trace"} {
		if !bytes.Contains([]byte(output), []byte(want)) {
			t.Errorf("stderr should contain %q, got: %s", want, output)
		}
	}
}

func TestFault_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("push timed out")
	f := NewFault(FaultAudioQueue, cause)

	assert.Equal(t, "fault 6 (audio queue): push timed out", f.Error())
	assert.ErrorIs(t, f, cause)

	wrapped := fmt.Errorf("generator: %w", f)
	got, ok := AsFault(wrapped)
	require.True(t, ok)
	assert.Equal(t, FaultAudioQueue, got.Source)
}

func TestFaultSource_String(t *testing.T) {
	tests := []struct {
		source FaultSource
		want   string
	}{
		{FaultMain, "main"},
		{FaultMessageQueue, "message queue"},
		{FaultPictureQueue, "picture window queue"},
		{FaultSource(42), "source 42"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.source.String())
		})
	}
}

func TestHandleFault(t *testing.T) {
	t.Run("non fault passes through", func(t *testing.T) {
		code, _ := stubExit(t)
		plain := errors.New("plain")
		cleaned := false

		err := HandleFault(plain, func() { cleaned = true })

		assert.Same(t, plain, err)
		assert.False(t, cleaned)
		assert.Equal(t, -1, *code)
	})

	t.Run("fault runs cleanup then exits", func(t *testing.T) {
		code, out := stubExit(t)
		var order []string

		_ = HandleFault(NewFault(FaultPictureQueue, nil), func() { order = append(order, "cleanup") })

		assert.Equal(t, []string{"cleanup"}, order)
		assert.Equal(t, 20, *code)
		assert.Contains(t, out.String(), "FATAL: fault 10")
	})

	t.Run("nil error", func(t *testing.T) {
		code, _ := stubExit(t)
		assert.NoError(t, HandleFault(nil, nil))
		assert.Equal(t, -1, *code)
	})
}
