// Package palette maps particle age onto the spark colour gradient.
package palette

import (
	"image/color"
	"math"
)

// Color is a linear RGB triple. Channels are not clamped and may leave [0, 1]
// where the gradient formulas push them there.
type Color struct {
	R, G, B float64
}

var (
	Yellow = Color{R: 1, G: 1, B: 0}
	Red    = Color{R: 1, G: 0, B: 0}
	Green  = Color{R: 0, G: 1, B: 0}
	Grey   = Color{R: 0.5, G: 0.5, B: 0.5}

	// cooling is subtracted from red as the ember fades to ash.
	cooling = Color{R: 0.5, G: -0.5, B: -0.5}
)

// Age breakpoints of the gradient, in simulated seconds.
const (
	FlashEnd = 0.1
	FadeEnd  = 1.5
	GlowEnd  = 2.0
	CoolEnd  = 3.0
	fadeSpan = 1.5
)

func (c Color) sub(o Color) Color {
	return Color{R: c.R - o.R, G: c.G - o.G, B: c.B - o.B}
}

func (c Color) scale(s float64) Color {
	return Color{R: c.R * s, G: c.G * s, B: c.B * s}
}

// Classify returns the display colour for a particle of the given age:
// yellow, fading through to red, then cooling to grey.
func Classify(age float64) Color {
	switch {
	case age < FlashEnd:
		return Yellow
	case age < FadeEnd:
		return Yellow.sub(Green.scale(age / fadeSpan))
	case age < GlowEnd:
		return Red
	case age < CoolEnd:
		return Red.sub(cooling.scale(age - GlowEnd))
	default:
		return Grey
	}
}

// RGB8 converts to 8-bit channels, clamping at the conversion boundary only.
func (c Color) RGB8() (r, g, b uint8) {
	return channel(c.R), channel(c.G), channel(c.B)
}

// RGBA returns the opaque 8-bit colour renderers draw with.
func (c Color) RGBA() color.RGBA {
	r, g, b := c.RGB8()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

func channel(v float64) uint8 {
	switch {
	case v <= 0 || math.IsNaN(v):
		return 0
	case v >= 1:
		return 255
	default:
		return uint8(v*255 + 0.5)
	}
}
