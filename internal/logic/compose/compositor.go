package compose

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/cjeanneret/boothframe/internal/config"
	"github.com/cjeanneret/boothframe/internal/debug"
	"github.com/cjeanneret/boothframe/internal/logic/geometry"
)

// ErrTemplateNotFound is returned by LoadTemplate when the artwork is absent.
// The compositor treats it as "run without a frame", never as a failure.
var ErrTemplateNotFound = errors.New("frame template not found")

// Template is the frame artwork and the slot reserved for the photo.
// It is immutable once loaded.
type Template struct {
	img  *image.RGBA
	slot image.Rectangle
}

// NewTemplate validates that slot lies inside img.
func NewTemplate(img image.Image, slot image.Rectangle) (*Template, error) {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	if slot.Empty() || !slot.In(rgba.Bounds()) {
		return nil, fmt.Errorf("slot %v does not fit template %dx%d", slot, b.Dx(), b.Dy())
	}
	return &Template{img: rgba, slot: slot}, nil
}

// LoadTemplate decodes the template file.
func LoadTemplate(path string, slot image.Rectangle) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, path)
		}
		return nil, fmt.Errorf("open template: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode template %s: %w", path, err)
	}
	return NewTemplate(img, slot)
}

// Bounds returns the template size.
func (t *Template) Bounds() image.Rectangle { return t.img.Bounds() }

// Slot returns the photo rectangle.
func (t *Template) Slot() image.Rectangle { return t.slot }

// Options controls fitting, styling and encoding.
type Options struct {
	Fit     FitPolicy
	Mirror  bool
	Filter  Filter // nil = none
	Kernel  xdraw.Interpolator
	Quality int // JPEG quality 1-100
}

// Compositor places a capture into the template slot.
// A nil template puts it in fallback mode: captures pass through unframed.
type Compositor struct {
	template *Template
	opts     Options
}

// New creates a compositor. tmpl may be nil.
func New(tmpl *Template, opts Options) *Compositor {
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}
	if opts.Kernel == nil {
		opts.Kernel = xdraw.CatmullRom
	}
	return &Compositor{template: tmpl, opts: opts}
}

// NewFromConfig loads the template once and builds the compositor.
// A missing template file yields a fallback compositor; an unreadable or
// corrupt one is an error.
func NewFromConfig(cfg *config.Config) (*Compositor, error) {
	fit, err := ParseFitPolicy(cfg.Compose.Fit)
	if err != nil {
		return nil, err
	}
	kernel, err := ParseKernel(cfg.Compose.Kernel)
	if err != nil {
		return nil, err
	}
	filter, err := NewFilter(cfg.Compose.Filter, cfg.Compose.DarkTone, cfg.Compose.LightTone)
	if err != nil {
		return nil, err
	}
	opts := Options{Fit: fit, Mirror: cfg.Compose.Mirror, Filter: filter, Kernel: kernel, Quality: cfg.Compose.Quality}

	if cfg.Frame.Template == "" {
		debug.Warn("No frame template configured; captures are delivered unframed")
		return New(nil, opts), nil
	}
	tmpl, err := LoadTemplate(cfg.Frame.Template, cfg.Frame.Slot.Rect())
	if errors.Is(err, ErrTemplateNotFound) {
		debug.Warn("Frame template %s not found; captures are delivered unframed", cfg.Frame.Template)
		return New(nil, opts), nil
	}
	if err != nil {
		return nil, err
	}
	debug.Value("Frame template", cfg.Frame.Template)
	debug.PrintStruct("Frame slot", tmpl.Slot())
	return New(tmpl, opts), nil
}

// Framed reports whether a template is loaded.
func (c *Compositor) Framed() bool { return c.template != nil }

// Compose returns the opaque composite for photo. Without a template the
// photo is returned flattened and otherwise untouched.
func (c *Compositor) Compose(photo image.Image) *image.RGBA {
	if c.template == nil {
		return Flatten(photo)
	}

	src := photo
	if c.opts.Mirror {
		src = Mirror(src)
	}
	slot := c.template.slot
	fitted := Fit(src, geometry.SizeOf(slot), c.opts.Fit, c.opts.Kernel)

	var layer image.Image = fitted
	if c.opts.Filter != nil {
		layer = c.opts.Filter.Apply(fitted)
	}

	canvas := image.NewRGBA(c.template.img.Bounds())
	copy(canvas.Pix, c.template.img.Pix)
	// The photo's own alpha is the mask: opaque pixels replace the
	// template, transparent ones let it show through.
	draw.Draw(canvas, geometry.Placement(slot, geometry.SizeOf(slot)), layer, image.Point{}, draw.Over)
	return Flatten(canvas)
}

// ComposeTo composes photo and writes the result to dst.
func (c *Compositor) ComposeTo(photo image.Image, dst string) error {
	if err := Save(dst, c.Compose(photo), c.opts.Quality); err != nil {
		return fmt.Errorf("write composite: %w", err)
	}
	return nil
}

// Save encodes img to path using the compositor's quality.
func (c *Compositor) Save(path string, img image.Image) error {
	return Save(path, img, c.opts.Quality)
}

// Flatten draws img over opaque white and drops the alpha channel.
func Flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Over)
	return out
}
