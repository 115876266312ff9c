package compose

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"
)

// Fixed enhancement factors of the noir look.
const (
	noirContrast   = 1.15
	noirBrightness = 1.05
)

// Filter restyles the fitted photo. It is never applied to the template.
type Filter interface {
	Apply(img image.Image) *image.NRGBA
}

// Noir converts to grayscale, maps black and white onto two tones,
// then raises contrast and brightness by fixed factors.
type Noir struct {
	Dark  color.NRGBA
	Light color.NRGBA
}

// NewFilter builds the filter named in the configuration.
// "none" returns a nil Filter.
func NewFilter(name, dark, light string) (Filter, error) {
	switch name {
	case "", "none":
		return nil, nil
	case "noir":
		d, err := ParseTone(dark)
		if err != nil {
			return nil, fmt.Errorf("dark tone: %w", err)
		}
		l, err := ParseTone(light)
		if err != nil {
			return nil, fmt.Errorf("light tone: %w", err)
		}
		return Noir{Dark: d, Light: l}, nil
	}
	return nil, fmt.Errorf("unknown filter %q", name)
}

// ParseTone parses "#rrggbb".
func ParseTone(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return color.NRGBA{}, fmt.Errorf("tone %q is not #rrggbb", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("tone %q is not #rrggbb", s)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// Apply returns a filtered copy; alpha is preserved.
func (n Noir) Apply(img image.Image) *image.NRGBA {
	out := toNRGBA(img)
	pix := out.Pix

	// Pass 1: luma, colorize, and the mean luminance the contrast step pivots on.
	var sum float64
	for i := 0; i < len(pix); i += 4 {
		g := (299*float64(pix[i]) + 587*float64(pix[i+1]) + 114*float64(pix[i+2])) / 1000 / 255
		pix[i] = lerp(n.Dark.R, n.Light.R, g)
		pix[i+1] = lerp(n.Dark.G, n.Light.G, g)
		pix[i+2] = lerp(n.Dark.B, n.Light.B, g)
		sum += (299*float64(pix[i]) + 587*float64(pix[i+1]) + 114*float64(pix[i+2])) / 1000
	}
	count := len(pix) / 4
	if count == 0 {
		return out
	}
	mean := math.Round(sum / float64(count))

	// Pass 2: contrast around the mean, then brightness.
	for i := 0; i < len(pix); i += 4 {
		for k := 0; k < 3; k++ {
			v := mean + (float64(pix[i+k])-mean)*noirContrast
			pix[i+k] = clamp8(v * noirBrightness)
		}
	}
	return out
}

func lerp(a, b uint8, t float64) uint8 {
	return clamp8(float64(a) + (float64(b)-float64(a))*t)
}

func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(math.Round(v))
}
