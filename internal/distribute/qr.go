package distribute

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	qrcode "github.com/skip2/go-qrcode"
)

// ErrEncoderUnavailable is returned when no QR encoder is configured.
var ErrEncoderUnavailable = errors.New("distribute: qr encoder unavailable")

// QREncoder renders download links as black-on-white PNG QR codes.
type QREncoder struct {
	size  int
	level qrcode.RecoveryLevel
}

// NewQREncoder creates an encoder. size > 0 is the total image width in
// pixels; size < 0 is the width of one module (-10 = 10 px per module).
func NewQREncoder(size int) *QREncoder {
	if size == 0 {
		size = -10
	}
	return &QREncoder{size: size, level: qrcode.Medium}
}

// Encode writes the QR code for text to dest and returns dest.
func (q *QREncoder) Encode(text, dest string) (string, error) {
	if q == nil {
		return "", ErrEncoderUnavailable
	}
	if text == "" {
		return "", errors.New("qr: empty payload")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("qr: create dir: %w", err)
	}
	if err := qrcode.WriteFile(text, q.level, q.size, dest); err != nil {
		return "", fmt.Errorf("qr: encode: %w", err)
	}
	return dest, nil
}
