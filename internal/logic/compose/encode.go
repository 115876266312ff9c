package compose

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 95

// Encode writes img in the format implied by ext (".png" or JPEG otherwise).
func Encode(w io.Writer, img image.Image, ext string, quality int) error {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "png":
		return png.Encode(w, img)
	case "jpg", "jpeg", "":
		if quality <= 0 || quality > 100 {
			quality = DefaultQuality
		}
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	}
	return fmt.Errorf("unsupported image extension %q", ext)
}

// Save writes img to path through a temp file and a rename, so readers
// never see a truncated photo.
func Save(path string, img image.Image, quality int) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*"+filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, img, filepath.Ext(path), quality); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
