package compose

import (
	"fmt"
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/cjeanneret/boothframe/internal/debug"
	"github.com/cjeanneret/boothframe/internal/logic/geometry"
)

// FitPolicy decides how a capture of arbitrary size becomes exactly
// slot-sized.
type FitPolicy int

const (
	// Cover scales uniformly so the photo covers the slot, then centre-crops.
	Cover FitPolicy = iota
	// Crop centre-crops to the slot aspect ratio, then resizes.
	Crop
	// Stretch resizes straight to the slot, ignoring aspect ratio.
	Stretch
)

// ParseFitPolicy maps a configuration value to a FitPolicy.
func ParseFitPolicy(s string) (FitPolicy, error) {
	switch s {
	case "", "cover":
		return Cover, nil
	case "crop":
		return Crop, nil
	case "stretch":
		return Stretch, nil
	}
	return Cover, fmt.Errorf("unknown fit policy %q", s)
}

func (p FitPolicy) String() string {
	switch p {
	case Crop:
		return "crop"
	case Stretch:
		return "stretch"
	default:
		return "cover"
	}
}

// ParseKernel maps a configuration value to a resampling kernel.
func ParseKernel(s string) (xdraw.Interpolator, error) {
	switch s {
	case "nearest":
		return xdraw.NearestNeighbor, nil
	case "bilinear":
		return xdraw.BiLinear, nil
	case "", "catmullrom":
		return xdraw.CatmullRom, nil
	}
	return nil, fmt.Errorf("unknown resampling kernel %q", s)
}

// Fit resizes photo to exactly slot using the given policy.
// The result's bounds start at (0,0).
func Fit(photo image.Image, slot geometry.Size, policy FitPolicy, kernel xdraw.Interpolator) *image.RGBA {
	if kernel == nil {
		kernel = xdraw.CatmullRom
	}
	dst := image.NewRGBA(image.Rect(0, 0, slot.W, slot.H))
	src := photo.Bounds()

	switch policy {
	case Stretch:
		debug.Verbose("Fit: stretch %dx%d -> %dx%d", src.Dx(), src.Dy(), slot.W, slot.H)
		kernel.Scale(dst, dst.Bounds(), photo, src, draw.Src, nil)

	case Crop:
		box := geometry.AspectCrop(src, slot)
		debug.Verbose("Fit: crop %dx%d to %.2fx%.2f at (%.2f,%.2f) -> %dx%d",
			src.Dx(), src.Dy(), box.Dx(), box.Dy(), box.X0, box.Y0, slot.W, slot.H)
		// Map the sub-pixel crop box onto the slot with one affine resample,
		// so the aspect ratio is kept without rounding the crop to pixels.
		sx := float64(slot.W) / box.Dx()
		sy := float64(slot.H) / box.Dy()
		s2d := f64.Aff3{
			sx, 0, -box.X0 * sx,
			0, sy, -box.Y0 * sy,
		}
		kernel.Transform(dst, s2d, photo, box.Outer().Intersect(src), draw.Src, nil)

	default:
		scaled := geometry.CoverSize(geometry.SizeOf(src), slot)
		debug.Verbose("Fit: cover %dx%d scale %.4f -> %dx%d, crop to %dx%d",
			src.Dx(), src.Dy(), geometry.CoverScale(geometry.SizeOf(src), slot), scaled.W, scaled.H, slot.W, slot.H)
		// Only the centred slot-sized window of the scaled image is resampled.
		off := geometry.CenterCrop(image.Rect(0, 0, scaled.W, scaled.H), slot.W, slot.H).Min
		sx := float64(scaled.W) / float64(src.Dx())
		sy := float64(scaled.H) / float64(src.Dy())
		s2d := f64.Aff3{
			sx, 0, -float64(src.Min.X)*sx - float64(off.X),
			0, sy, -float64(src.Min.Y)*sy - float64(off.Y),
		}
		kernel.Transform(dst, s2d, photo, src, draw.Src, nil)
	}
	return dst
}

// Mirror flips img horizontally. Mirror(Mirror(x)) equals x pixel for
// pixel for any *image.NRGBA input.
func Mirror(img image.Image) *image.NRGBA {
	out := toNRGBA(img)
	b := out.Bounds()
	for y := 0; y < b.Dy(); y++ {
		row := out.Pix[y*out.Stride : y*out.Stride+b.Dx()*4]
		for l, r := 0, b.Dx()-1; l < r; l, r = l+1, r-1 {
			li, ri := l*4, r*4
			for k := 0; k < 4; k++ {
				row[li+k], row[ri+k] = row[ri+k], row[li+k]
			}
		}
	}
	return out
}

// toNRGBA returns a copy of img as NRGBA with bounds starting at (0,0).
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			so := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Pix[y*out.Stride:y*out.Stride+b.Dx()*4], src.Pix[so:so+b.Dx()*4])
		}
		return out
	}
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
