// internal/sstv/martin.go
package sstv

import (
	"context"
	"image"
	"image/color"
)

// Martin M1 timing, in milliseconds.
const (
	MartinWidth  = 320
	MartinHeight = 256
	MartinVIS    = 44

	syncMillis  = 4.862
	porchMillis = 0.572
	pixelMillis = 0.4576
	visBitMs    = 30

	syncFreq  = 1200
	blackFreq = 1500
	whiteFreq = 2300
	visZero   = 1300
	visOne    = 1100
)

type emitter func(freq, millis float64) error

// header writes the calibration tones and the VIS code with even parity.
func header(emit emitter, vis byte) error {
	tones := []Event{
		{1500, 1000},
		{1900, 300},
		{syncFreq, 30},
		{1900, 300},
		{syncFreq, visBitMs},
	}
	parity := 0
	for bit := 0; bit < 7; bit++ {
		f := float64(visZero)
		if vis>>bit&1 == 1 {
			f = visOne
			parity ^= 1
		}
		tones = append(tones, Event{f, visBitMs})
	}
	if parity == 1 {
		tones = append(tones, Event{visOne, visBitMs})
	} else {
		tones = append(tones, Event{visZero, visBitMs})
	}
	tones = append(tones, Event{syncFreq, visBitMs})

	for _, t := range tones {
		if err := emit(t.Frequency, t.Duration); err != nil {
			return err
		}
	}
	return nil
}

// luminance maps a channel value onto the 1500-2300 Hz video band.
func luminance(v uint8) float64 {
	return blackFreq + (whiteFreq-blackFreq)*float64(v)/256
}

// encodeMartin scans img in Martin M1 order: green, blue, red per line.
// Images of another size are sampled to 320x256.
func encodeMartin(img image.Image, emit emitter) error {
	if err := header(emit, MartinVIS); err != nil {
		return err
	}

	b := img.Bounds()
	var line [3][MartinWidth]uint8
	for y := 0; y < MartinHeight; y++ {
		sy := b.Min.Y + y*b.Dy()/MartinHeight
		for x := 0; x < MartinWidth; x++ {
			sx := b.Min.X + x*b.Dx()/MartinWidth
			c := color.RGBAModel.Convert(img.At(sx, sy)).(color.RGBA)
			line[0][x], line[1][x], line[2][x] = c.G, c.B, c.R
		}

		if err := emit(syncFreq, syncMillis); err != nil {
			return err
		}
		if err := emit(blackFreq, porchMillis); err != nil {
			return err
		}
		for _, ch := range line {
			for _, v := range ch {
				if err := emit(luminance(v), pixelMillis); err != nil {
					return err
				}
			}
			if err := emit(blackFreq, porchMillis); err != nil {
				return err
			}
		}
	}
	return nil
}

// TestPattern is the 320x256 picture sent on request: a green ramp, a blue
// triangle and a red level rising line by line.
type TestPattern struct{}

func (TestPattern) ColorModel() color.Model { return color.RGBAModel }

func (TestPattern) Bounds() image.Rectangle {
	return image.Rect(0, 0, MartinWidth, MartinHeight)
}

func (TestPattern) At(x, y int) color.Color {
	tri := MartinWidth - 2*x
	if tri < 0 {
		tri = -tri
	}
	return color.RGBA{
		R: uint8(y * 256 / MartinHeight),
		G: uint8(x * 256 / MartinWidth),
		B: uint8(min(255, tri*256/MartinWidth)),
		A: 0xff,
	}
}

// SendImage scripts img as a Martin M1 transmission. On error the partial
// transmission is closed so the renderer goes idle.
func (g *Generator) SendImage(ctx context.Context, img image.Image) error {
	g.busy.Store(true)
	g.logger.Info("sending picture", "mode", "Martin M1", "bounds", img.Bounds())

	err := encodeMartin(img, func(freq, millis float64) error {
		return g.Send(ctx, freq, millis)
	})
	if err != nil {
		g.logger.Error("picture aborted", "err", err)
		if endErr := g.End(ctx); endErr != nil {
			g.busy.Store(false)
		}
		return err
	}
	return g.End(ctx)
}

// SendTestPattern transmits the built-in test picture.
func (g *Generator) SendTestPattern(ctx context.Context) error {
	return g.SendImage(ctx, TestPattern{})
}
