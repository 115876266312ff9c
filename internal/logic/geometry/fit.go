package geometry

import (
	"image"
	"math"
)

// Size is a width/height pair in pixels.
type Size struct {
	W int
	H int
}

// SizeOf returns the size of a rectangle.
func SizeOf(r image.Rectangle) Size {
	return Size{W: r.Dx(), H: r.Dy()}
}

// Aspect returns W/H, or 0 for a degenerate size.
func (s Size) Aspect() float64 {
	if s.H == 0 {
		return 0
	}
	return float64(s.W) / float64(s.H)
}

// Box is a rectangle with sub-pixel edges, used for crops whose aspect
// ratio must match the slot exactly.
type Box struct {
	X0, Y0, X1, Y1 float64
}

// Dx returns the box width.
func (b Box) Dx() float64 { return b.X1 - b.X0 }

// Dy returns the box height.
func (b Box) Dy() float64 { return b.Y1 - b.Y0 }

// Aspect returns Dx/Dy.
func (b Box) Aspect() float64 {
	if b.Dy() == 0 {
		return 0
	}
	return b.Dx() / b.Dy()
}

// Outer returns the smallest integer rectangle containing the box.
func (b Box) Outer() image.Rectangle {
	return image.Rect(
		int(math.Floor(b.X0)), int(math.Floor(b.Y0)),
		int(math.Ceil(b.X1)), int(math.Ceil(b.Y1)),
	)
}

// CoverScale returns the uniform factor that makes src cover dst in both
// dimensions: max(dst.W/src.W, dst.H/src.H).
func CoverScale(src, dst Size) float64 {
	if src.W <= 0 || src.H <= 0 {
		return 0
	}
	return math.Max(float64(dst.W)/float64(src.W), float64(dst.H)/float64(src.H))
}

// CoverSize returns src scaled by CoverScale, rounded to whole pixels and
// never smaller than dst, so a centre crop to dst is always possible.
func CoverSize(src, dst Size) Size {
	scale := CoverScale(src, dst)
	w := int(math.Round(float64(src.W) * scale))
	h := int(math.Round(float64(src.H) * scale))
	return Size{W: max(w, dst.W), H: max(h, dst.H)}
}

// CenterCrop returns the w×h rectangle centred in r.
// w and h are clamped to r's size.
func CenterCrop(r image.Rectangle, w, h int) image.Rectangle {
	w = min(max(w, 0), r.Dx())
	h = min(max(h, 0), r.Dy())
	x0 := r.Min.X + (r.Dx()-w)/2
	y0 := r.Min.Y + (r.Dy()-h)/2
	return image.Rect(x0, y0, x0+w, y0+h)
}

// AspectCrop returns the largest box centred in r whose aspect ratio is
// exactly dst.W/dst.H. The excess of the longer dimension is discarded
// equally on both sides.
func AspectCrop(r image.Rectangle, dst Size) Box {
	w, h := float64(r.Dx()), float64(r.Dy())
	full := Box{X0: float64(r.Min.X), Y0: float64(r.Min.Y), X1: float64(r.Max.X), Y1: float64(r.Max.Y)}
	target := dst.Aspect()
	if target <= 0 || w <= 0 || h <= 0 {
		return full
	}

	if w/h > target {
		cw := h * target
		x0 := full.X0 + (w-cw)/2
		return Box{X0: x0, Y0: full.Y0, X1: x0 + cw, Y1: full.Y1}
	}
	ch := w / target
	y0 := full.Y0 + (h-ch)/2
	return Box{X0: full.X0, Y0: y0, X1: full.X1, Y1: y0 + ch}
}

// Placement returns the slot rectangle translated into dst coordinates,
// i.e. where the fitted photo's top-left corner lands on the template.
func Placement(slot image.Rectangle, fitted Size) image.Rectangle {
	return image.Rect(slot.Min.X, slot.Min.Y, slot.Min.X+fitted.W, slot.Min.Y+fitted.H)
}
