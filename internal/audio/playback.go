// internal/audio/playback.go
package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// DefaultPlaybackConfig returns the transmitter output defaults
func DefaultPlaybackConfig() Config {
	return Config{
		DeviceIndex: -1,
		SampleRate:  16000,
		Channels:    Channels,
		BufferSize:  BlockLen / Channels,
	}
}

// Playback drives the transmitter audio input from a Player.
type Playback struct {
	config  Config
	backend backend
	player  *Player
	device  *malgo.Device
	running bool
	mu      sync.Mutex
	scratch []int16
}

// NewPlayback creates a playback device reading from player.
func NewPlayback(cfg Config, player *Player) *Playback {
	return &Playback{config: cfg, player: player}
}

// Init initializes the audio backend
func (p *Playback) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backend.init()
}

// ListDevices returns available playback devices
func (p *Playback) ListDevices() ([]malgo.DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backend.devices(malgo.Playback)
}

// Start opens the device in signed 16-bit stereo. It stops when ctx is
// cancelled.
func (p *Playback) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}
	if p.backend.ctx == nil {
		return ErrNotInitialized
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.SampleRate = p.config.SampleRate
	deviceConfig.PeriodSizeInFrames = p.config.BufferSize
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = Channels

	id, err := p.backend.deviceID(malgo.Playback, p.config.DeviceIndex)
	if err != nil {
		return err
	}
	if id != nil {
		deviceConfig.Playback.DeviceID = id.Pointer()
	}

	onSendFrames := func(outputSamples, _ []byte, frameCount uint32) {
		n := int(frameCount) * Channels
		if cap(p.scratch) < n {
			p.scratch = make([]int16, n)
		}
		buf := p.scratch[:n]
		p.player.Read(buf)
		int16ToBytes(buf, outputSamples)
	}

	device, err := malgo.InitDevice(p.backend.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSendFrames,
	})
	if err != nil {
		return fmt.Errorf("init device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start device: %w", err)
	}

	p.device = device
	p.running = true

	go func() {
		<-ctx.Done()
		_ = p.Stop()
	}()
	return nil
}

// Stop stops playback
func (p *Playback) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return ErrNotRunning
	}
	if p.device != nil {
		_ = p.device.Stop()
		p.device.Uninit()
		p.device = nil
	}
	p.running = false
	return nil
}

// Close releases all audio resources
func (p *Playback) Close() error {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if running {
		_ = p.Stop()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backend.close()
}

// int16ToBytes writes samples little-endian into dst.
func int16ToBytes(samples []int16, dst []byte) {
	for i, s := range samples {
		if 2*i+1 >= len(dst) {
			return
		}
		dst[2*i] = byte(uint16(s))
		dst[2*i+1] = byte(uint16(s) >> 8)
	}
}
