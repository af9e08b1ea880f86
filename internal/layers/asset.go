package layers

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"sync"

	"github.com/lehigh-university-libraries/retoucher/internal/utils"

	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Asset is an immutable image: decoded pixels plus an encoded form. Assets
// decoded from uploads keep their original bytes; assets built from pixels
// are encoded to PNG on first use.
type Asset struct {
	img    *image.RGBA
	format string

	once   sync.Once
	data   []byte
	encErr error
}

// DefaultMaxPixels bounds decoded images when no other limit is given.
const DefaultMaxPixels = 64 << 20

// ErrTooLarge is returned for images whose header declares more pixels than
// allowed. Nothing is decoded in that case.
var ErrTooLarge = errors.New("image too large")

// DecodeAsset decodes image bytes. Supported formats are PNG, JPEG, GIF,
// TIFF and WebP. Images over maxPixels (DefaultMaxPixels when not positive)
// are rejected from their header alone.
func DecodeAsset(data []byte, maxPixels int) (*Asset, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	a := &Asset{
		img:    utils.CloneRGBA(img),
		format: format,
		data:   append([]byte(nil), data...),
	}
	a.once.Do(func() {})
	return a, nil
}

// NewAsset wraps a copy of img.
func NewAsset(img image.Image) *Asset {
	return &Asset{img: utils.CloneRGBA(img), format: "png"}
}

// Image returns the asset pixels. Callers must not modify the result.
func (a *Asset) Image() *image.RGBA {
	return a.img
}

// Format is the encoding of Bytes.
func (a *Asset) Format() string {
	return a.format
}

// Width returns the asset width in pixels.
func (a *Asset) Width() int {
	return a.img.Bounds().Dx()
}

// Height returns the asset height in pixels.
func (a *Asset) Height() int {
	return a.img.Bounds().Dy()
}

// Bytes returns the encoded image.
func (a *Asset) Bytes() ([]byte, error) {
	a.once.Do(func() {
		var buf bytes.Buffer
		a.encErr = png.Encode(&buf, a.img)
		a.data = buf.Bytes()
	})
	return a.data, a.encErr
}

// PNG returns the asset encoded as PNG regardless of its source format.
func (a *Asset) PNG() ([]byte, error) {
	if a.format == "png" {
		return a.Bytes()
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, a.img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
