// Package compositor maps filter parameters to a single renderable color.
//
// The tint is built from two layers: a warm layer whose hue follows the
// temperature and whose alpha follows the opacity, painted over a black dim
// layer whose alpha follows the inverse of the brightness.
package compositor

import (
	"fmt"
	"math"

	"github.com/dokzlo13/nightbuddy/internal/model"
)

// Color is a non-premultiplied 0xAARRGGBB value.
type Color uint32

// Reference colors.
const (
	White Color = 0xFFFFFFFF
	Black Color = 0xFF000000
	// Warm is the hue reached at temperature 100.
	Warm Color = 0xFFFFB347
)

const (
	dimScale    = 180
	dimAlphaMax = 200
)

// ARGB builds a color from its channels.
func ARGB(a, r, g, b uint8) Color {
	return Color(uint32(a)<<24 | uint32(r)<<16 | uint32(g)<<8 | uint32(b))
}

func (c Color) A() uint8 { return uint8(c >> 24) }
func (c Color) R() uint8 { return uint8(c >> 16) }
func (c Color) G() uint8 { return uint8(c >> 8) }
func (c Color) B() uint8 { return uint8(c) }

// WithAlpha returns c with its alpha channel replaced.
func (c Color) WithAlpha(a uint8) Color {
	return Color(uint32(c)&0x00FFFFFF | uint32(a)<<24)
}

// Hex formats the color as #AARRGGBB.
func (c Color) Hex() string {
	return fmt.Sprintf("#%08X", uint32(c))
}

// Compose maps temperature, opacity and brightness (each clamped to [0,100])
// to the overlay color.
func Compose(temperature, opacity, brightness float64) Color {
	temperature = model.Clamp100(temperature)
	opacity = model.Clamp100(opacity)
	brightness = model.Clamp100(brightness)

	baseWarm := Blend(White, Warm, temperature/100)
	warmLayer := baseWarm.WithAlpha(toByte(opacity / 100 * 255))

	dimAlpha := math.Round((1 - brightness/100) * dimScale)
	if dimAlpha > dimAlphaMax {
		dimAlpha = dimAlphaMax
	}
	dimLayer := Black.WithAlpha(uint8(dimAlpha))

	return Over(warmLayer, dimLayer)
}

// ComposePayload is Compose over a resolved payload.
func ComposePayload(p model.Payload) Color {
	return Compose(p.Temperature, p.Opacity, p.Brightness)
}

// Blend linearly interpolates every channel from a toward b by t in [0,1].
func Blend(a, b Color, t float64) Color {
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	mix := func(x, y uint8) uint8 {
		return toByte(float64(x) + (float64(y)-float64(x))*t)
	}
	return ARGB(mix(a.A(), b.A()), mix(a.R(), b.R()), mix(a.G(), b.G()), mix(a.B(), b.B()))
}

// Over composites src on top of dst with source-over alpha compositing.
func Over(src, dst Color) Color {
	as := float64(src.A()) / 255
	ab := float64(dst.A()) / 255
	a := as + ab*(1-as)
	if a == 0 {
		return 0
	}
	channel := func(cs, cb uint8) uint8 {
		return toByte((float64(cs)*as + float64(cb)*ab*(1-as)) / a)
	}
	return ARGB(
		toByte(a*255),
		channel(src.R(), dst.R()),
		channel(src.G(), dst.G()),
		channel(src.B(), dst.B()),
	)
}

func toByte(v float64) uint8 {
	v = math.Round(v)
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
