package cmd

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/ColonelBlimp/repeaterctl/internal/config"
	"github.com/ColonelBlimp/repeaterctl/internal/pio"
	"github.com/ColonelBlimp/repeaterctl/internal/sstv"
	"github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	home := resetViperForTest(t)
	writeConfig(t, home, config.DefaultConfig)
	initConfig()
	s, err := config.Get()
	require.NoError(t, err)
	return s
}

func TestNewStation_WiresComponents(t *testing.T) {
	s := testSettings(t)
	hw := pio.NewStatic()

	st, err := newStation(s, log.New(io.Discard), hw)
	require.NoError(t, err)
	defer st.Close()

	assert.NotNil(t, st.ctl)
	assert.NotNil(t, st.machine)
	assert.True(t, st.out.player.Silent())
	assert.False(t, st.messages.Busy())
	assert.False(t, st.pictures.Busy())

	require.NoError(t, st.ctl.Tick(context.Background()))
	assert.Equal(t, 1, hw.Writes(), "each poll drives the outputs")
}

func TestNewStation_LogsToneEvents(t *testing.T) {
	s := testSettings(t)
	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})
	st, err := newStation(s, logger, pio.NewStatic())
	require.NoError(t, err)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st.detector.Enable(true)
	block := make([]float32, s.ToneBlockSize)
	n := 0
	for i := 0; i < 12 && !st.detector.Tone1750(); i++ {
		for k := range block {
			block[k] = float32(0.5 * math.Sin(2*math.Pi*1750*float64(n)/float64(s.InputSampleRate)))
			n++
		}
		st.detector.Process(block)
		if i > 0 {
			require.NoError(t, st.detector.AnalyseNext(ctx))
		}
	}
	require.True(t, st.detector.Tone1750())

	out := buf.String()
	assert.Contains(t, out, "dsp")
	assert.Contains(t, out, "kind=1750-on")
	assert.Contains(t, out, "history=---")
}

func TestNewStation_BadTimezone(t *testing.T) {
	s := testSettings(t)
	s.Timezone = "Nowhere/Null"

	_, err := newStation(s, log.New(io.Discard), pio.NewStatic())
	assert.Error(t, err)
}

func TestOpenStationIO_WithoutGPIO(t *testing.T) {
	s := testSettings(t)

	hw, closer, err := openStationIO(s, log.New(io.Discard))
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.IsType(t, &pio.Static{}, hw)
}

func TestMetricsServer(t *testing.T) {
	s := testSettings(t)
	st, err := newStation(s, log.New(io.Discard), pio.NewStatic())
	require.NoError(t, err)

	st.collector.BeaconSent()
	st.store.SetSupplyVoltage(12.6)

	srv := metricsServer(":0", st.registry)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "repeater_beacons_sent_total 1")
	assert.Contains(t, body, "go_goroutines")
}

func TestHandleSignals(t *testing.T) {
	s := testSettings(t)
	var buf bytes.Buffer
	st, err := newStation(s, log.New(&buf), pio.NewStatic())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 2)
	done := make(chan struct{})
	go func() {
		st.handleSignals(ctx, sig)
		close(done)
	}()

	sig <- syscall.SIGUSR1
	sig <- syscall.SIGUSR2
	require.Eventually(t, func() bool {
		return len(sig) == 0
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handleSignals did not stop on cancel")
	}
	assert.Contains(t, buf.String(), "beacon forced")
	assert.Contains(t, buf.String(), "picture requested")
}

func TestLoadImage(t *testing.T) {
	img, err := loadImage("")
	require.NoError(t, err)
	assert.IsType(t, sstv.TestPattern{}, img)

	_, err = loadImage(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "red.png")
	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range src.Pix {
		src.Pix[i] = 0xff
	}
	src.Set(0, 0, color.RGBA{R: 0xff, A: 0xff})
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, src))
	require.NoError(t, f.Close())

	img, err = loadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())

	bad := filepath.Join(t.TempDir(), "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0644))
	_, err = loadImage(bad)
	assert.ErrorContains(t, err, "decode")
}

func TestPrintDevices(t *testing.T) {
	var buf bytes.Buffer
	printDevices(&buf, "Capture devices", nil)
	assert.Equal(t, "Capture devices:\n  (none)\n", buf.String())

	buf.Reset()
	printDevices(&buf, "Playback devices", []malgo.DeviceInfo{{IsDefault: 1}, {}})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], " * 0"), "default device marked: %q", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "   1"), "%q", lines[2])
}

func TestWaitIdle(t *testing.T) {
	var busy atomic.Bool
	busy.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	time.AfterFunc(30*time.Millisecond, func() { busy.Store(false) })
	start := time.Now()
	require.NoError(t, waitIdle(ctx, busy.Load, func() bool { return true }))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	err := waitIdle(cancelled, func() bool { return false }, func() bool { return false })
	assert.ErrorIs(t, err, context.Canceled)
}
