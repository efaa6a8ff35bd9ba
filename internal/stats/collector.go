// internal/stats/collector.go
package stats

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/strftime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ColonelBlimp/repeaterctl/internal/clock"
)

const namespace = "repeater"

// WallClock supplies local time for the statistics header.
type WallClock interface {
	Local() (time.Time, bool)
}

// Config holds the statistics text settings.
type Config struct {
	Callsign string
	// Banner is the first line of the statistics block
	Banner  string
	Version string
	// DateFormat is a strftime pattern for the header date
	DateFormat string
}

type minMax struct {
	min, max float64
	ok       bool
}

func (m *minMax) add(v float64) {
	if !m.ok {
		m.min, m.max, m.ok = v, v, true
		return
	}
	m.min = math.Min(m.min, v)
	m.max = math.Max(m.max, v)
}

// Collector counts repeater events for the daily statistics beacon and
// exports them as prometheus metrics. The daily counters restart each
// time the text is built.
type Collector struct {
	cfg    Config
	clk    clock.Clock
	wall   WallClock
	bootMs uint64
	date   *strftime.Strftime

	mu          sync.Mutex
	beacons     int
	windMoves   int
	txSwitches  int
	cutoffs     int
	battery     minMax
	temperature minMax
	perHour     [24]float64
	perHourOK   [24]bool

	beaconsTotal   prometheus.Counter
	cutoffsTotal   prometheus.Counter
	txTotal        prometheus.Counter
	windTotal      prometheus.Counter
	supplyGauge    prometheus.Gauge
	tempGauge      prometheus.Gauge
	stateGauge     *prometheus.GaugeVec
	lostBlocks     prometheus.Counter
	toneStrengths  *prometheus.GaugeVec
	messagesPushed *prometheus.CounterVec
}

// NewCollector registers the metrics on reg.
func NewCollector(cfg Config, clk clock.Clock, wall WallClock, reg prometheus.Registerer) (*Collector, error) {
	if clk == nil || wall == nil {
		return nil, fmt.Errorf("stats: clock and wall clock are required")
	}
	if cfg.DateFormat == "" {
		cfg.DateFormat = "%Y-%m-%d"
	}
	date, err := strftime.New(cfg.DateFormat)
	if err != nil {
		return nil, fmt.Errorf("stats date format: %w", err)
	}

	f := promauto.With(reg)
	return &Collector{
		cfg:    cfg,
		clk:    clk,
		wall:   wall,
		bootMs: clk.NowMs(),
		date:   date,
		beaconsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "beacons_sent_total",
			Help: "Beacons transmitted.",
		}),
		cutoffsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "talk_limit_cutoffs_total",
			Help: "Transmissions cut off by the talk limit.",
		}),
		txTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tx_switches_total",
			Help: "Transmitter on/off switches.",
		}),
		windTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "wind_generator_movements_total",
			Help: "Wind generator breaker movements.",
		}),
		supplyGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "supply_volts",
			Help: "Last 12 V supply reading.",
		}),
		tempGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "temperature_celsius",
			Help: "Last temperature reading.",
		}),
		stateGauge: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "state",
			Help: "1 for the current controller state.",
		}, []string{"state"}),
		lostBlocks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tone_blocks_lost_total",
			Help: "Tone analysis blocks dropped because the analyser fell behind.",
		}),
		toneStrengths: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tone_strength",
			Help: "Smoothed tone detector strength.",
		}, []string{"tone"}),
		messagesPushed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_total",
			Help: "Messages handed to a generator.",
		}, []string{"generator"}),
	}, nil
}

// BeaconSent counts a transmitted beacon.
func (c *Collector) BeaconSent() {
	c.mu.Lock()
	c.beacons++
	c.mu.Unlock()
	c.beaconsTotal.Inc()
}

// CutoffTriggered counts a talk limit cutoff.
func (c *Collector) CutoffTriggered() {
	c.mu.Lock()
	c.cutoffs++
	c.mu.Unlock()
	c.cutoffsTotal.Inc()
}

// TxSwitched counts a transmitter on/off change.
func (c *Collector) TxSwitched() {
	c.mu.Lock()
	c.txSwitches++
	c.mu.Unlock()
	c.txTotal.Inc()
}

// WindGeneratorMoved counts a breaker movement.
func (c *Collector) WindGeneratorMoved() {
	c.mu.Lock()
	c.windMoves++
	c.mu.Unlock()
	c.windTotal.Inc()
}

// Voltage records a supply reading.
func (c *Collector) Voltage(v float64) {
	c.mu.Lock()
	c.battery.add(v)
	c.mu.Unlock()
	c.supplyGauge.Set(v)
}

// VoltageAtHour records the supply at a full hour.
func (c *Collector) VoltageAtHour(hour int, v float64) {
	if hour < 0 || hour > 23 {
		return
	}
	c.mu.Lock()
	c.perHour[hour] = v
	c.perHourOK[hour] = true
	c.mu.Unlock()
}

// Temperature records a temperature reading.
func (c *Collector) Temperature(t float64) {
	c.mu.Lock()
	c.temperature.add(t)
	c.mu.Unlock()
	c.tempGauge.Set(t)
}

// State marks the current controller state.
func (c *Collector) State(name string) {
	c.stateGauge.Reset()
	c.stateGauge.WithLabelValues(name).Set(1)
}

// LostBlocks adds dropped tone analysis blocks.
func (c *Collector) LostBlocks(n uint64) {
	c.lostBlocks.Add(float64(n))
}

// ToneStrength publishes one smoothed detector value.
func (c *Collector) ToneStrength(tone string, v int32) {
	c.toneStrengths.WithLabelValues(tone).Set(float64(v))
}

// MessagePushed counts a message for the named generator.
func (c *Collector) MessagePushed(generator string) {
	c.messagesPushed.WithLabelValues(generator).Inc()
}

// decis formats v with one decimal and the given unit letter, as "12V5".
func decis(v float64, unit byte) string {
	d := int(math.Round(v * 10))
	if d < 0 {
		return fmt.Sprintf("-%d%c%d", -d/10, unit, -d%10)
	}
	return fmt.Sprintf("%d%c%d", d/10, unit, d%10)
}

func (m minMax) format(unit byte) string {
	if !m.ok {
		return "?,?"
	}
	return decis(m.min, unit) + "," + decis(m.max, unit)
}

// StatsText builds the daily statistics block and starts a new day.
func (c *Collector) StatsText(windDisconnected bool) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sb strings.Builder
	banner := c.cfg.Banner
	if banner == "" {
		banner = c.cfg.Callsign
	}
	fmt.Fprintf(&sb, "%s %s\n", banner, banner)

	if now, ok := c.wall.Local(); ok {
		fmt.Fprintf(&sb, "Statistics for %s\n", c.date.FormatString(now))
	} else {
		sb.WriteString("Statistics of the day\n")
	}

	up := time.Duration(c.clk.NowMs()-c.bootMs) * time.Millisecond
	days := int(up / (24 * time.Hour))
	hours := int(up/time.Hour) % 24
	mins := int(up/time.Minute) % 60

	fmt.Fprintf(&sb, "Version= %s\n", c.cfg.Version)
	fmt.Fprintf(&sb, "Uptime= %dd%dh%dm\n", days, hours, mins)
	fmt.Fprintf(&sb, "U min,max= %s\n", c.battery.format('V'))
	sb.WriteString("U full hours=\n")
	for h := 0; h < 24; h++ {
		if c.perHourOK[h] {
			sb.WriteString(" " + decis(c.perHour[h], 'V'))
		} else {
			sb.WriteString(" ?   ")
		}
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Wind generator switches= %d\n", c.windMoves)
	if windDisconnected {
		sb.WriteString("Wind generator disconnected\n")
	}
	fmt.Fprintf(&sb, "Temp min,max= %s\n", c.temperature.format('C'))
	fmt.Fprintf(&sb, "Beacons= %d\n", c.beacons)
	fmt.Fprintf(&sb, "TX ON/OFF= %d\n", c.txSwitches)
	fmt.Fprintf(&sb, "Talk limit= %d\n", c.cutoffs)

	c.reset()
	return sb.String()
}

func (c *Collector) reset() {
	c.beacons = 0
	c.windMoves = 0
	c.txSwitches = 0
	c.cutoffs = 0
	c.battery = minMax{}
	c.temperature = minMax{}
	c.perHour = [24]float64{}
	c.perHourOK = [24]bool{}
}
