package telemetry

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ColonelBlimp/repeaterctl/internal/clock"
)

func newTestStore(t *testing.T) (*Store, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(1000)
	s, err := NewStore(clk)
	require.NoError(t, err)
	return s, clk
}

func TestStore_Capacity(t *testing.T) {
	s, clk := newTestStore(t)
	assert.Zero(t, s.BatteryCapacityAh())

	require.NoError(t, s.Push("CAPA,1,1420000\r\n"))
	assert.Equal(t, 1420, s.BatteryCapacityAh())

	clk.Advance(MaxMessageAge)
	assert.Equal(t, 1420, s.BatteryCapacityAh())
	clk.Advance(time.Millisecond)
	assert.Zero(t, s.BatteryCapacityAh(), "stale reading")
}

func TestStore_Breaker(t *testing.T) {
	s, _ := newTestStore(t)
	moves := 0
	s.OnBreakerChange(func() { moves++ })

	assert.False(t, s.WindDisconnected())
	require.NoError(t, s.Push("DISJEOL,1,On"))
	assert.False(t, s.WindDisconnected())
	require.NoError(t, s.Push("DISJEOL,1,Off"))
	assert.True(t, s.WindDisconnected())
	require.NoError(t, s.Push("DISJEOL,1,Off"))
	assert.Equal(t, 1, moves)

	assert.ErrorIs(t, s.Push("DISJEOL,1,Maybe"), ErrBadValue)
}

func TestStore_TooLowHysteresis(t *testing.T) {
	s, _ := newTestStore(t)

	_, known := s.TooLow()
	assert.False(t, known)

	steps := []struct {
		mah  string
		want bool
	}{
		{"1400000", false},
		{"1299999", true},
		{"1320000", true},
		{"1350000", false},
		{"1320000", false},
	}
	for _, st := range steps {
		require.NoError(t, s.Push("CAPA,1,"+st.mah))
		qrp, known := s.TooLow()
		assert.True(t, known)
		assert.Equal(t, st.want, qrp, "at %s mAh", st.mah)
	}

	require.NoError(t, s.Push("DISJEOL,1,Off"))
	qrp, _ := s.TooLow()
	assert.True(t, qrp, "open breaker forces QRP")
}

func TestStore_Temperature(t *testing.T) {
	s, clk := newTestStore(t)
	var got float64
	s.OnTemperature(func(c float64) { got = c })

	_, ok := s.Temperature()
	assert.False(t, ok)

	require.NoError(t, s.Push("TEMP,0,-3.5"))
	v, ok := s.Temperature()
	assert.True(t, ok)
	assert.Equal(t, -3.5, v)
	assert.Equal(t, -3.5, got)

	clk.Advance(TemperatureAge + time.Second)
	_, ok = s.Temperature()
	assert.False(t, ok)
}

func TestStore_PushErrors(t *testing.T) {
	s, _ := newTestStore(t)
	assert.ErrorIs(t, s.Push("TEXT"), ErrUnknownMessage)
	assert.ErrorIs(t, s.Push("ERROR,1,x"), ErrUnknownMessage)
	assert.ErrorIs(t, s.Push("CAPA,1,lots"), ErrBadValue)
	assert.ErrorIs(t, s.Push("VBAT,1,"), ErrBadValue)
}

func TestStore_Consume(t *testing.T) {
	s, _ := newTestStore(t)
	var volts []float64
	s.OnVoltage(func(v float64) { volts = append(volts, v) })

	feed := "VBAT,0,12.8\r\n\r\nnoise\r\nCAPA,1,1500000\r\nVBAT,0,12.9\r\n"
	err := s.Consume(context.Background(), strings.NewReader(feed), log.New(io.Discard))
	require.NoError(t, err)

	assert.Equal(t, []float64{12.8, 12.9}, volts)
	assert.Equal(t, 12.9, s.SupplyVoltage())
	assert.Equal(t, 1500, s.BatteryCapacityAh())
}
