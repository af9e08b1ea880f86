package layers

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/gomonobolditalic"
	"golang.org/x/image/font/gofont/gomonoitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Render composites the stack onto a transparent canvas, later layers drawn
// over earlier ones.
func (s Stack) Render() *image.RGBA {
	return s.RenderWith("", nil)
}

// RenderWith composites the stack with the pixels of the layer id replaced by
// img. It is used to show an uncommitted candidate in place.
func (s Stack) RenderWith(id string, img image.Image) *image.RGBA {
	w, h := s.Size()
	if base, ok := s.Base(); ok && img != nil && base.ID == id {
		w, h = img.Bounds().Dx(), img.Bounds().Dy()
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	for _, l := range s.Layers {
		switch l.Type {
		case TypeImage:
			var src image.Image = l.Asset.Image()
			if img != nil && l.ID == id {
				src = img
			}
			draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Over)
		case TypeText:
			if err := drawText(dst, *l.Text); err != nil {
				slog.Warn("Skipping text layer", "layer_id", l.ID, "err", err)
			}
		}
	}
	return dst
}

type faceKey struct {
	family string
	bold   bool
	italic bool
	size   int
}

var (
	faceMu sync.Mutex
	faces  = map[faceKey]font.Face{}
)

func fontData(family string, bold, italic bool) []byte {
	if family == "mono" {
		switch {
		case bold && italic:
			return gomonobolditalic.TTF
		case bold:
			return gomonobold.TTF
		case italic:
			return gomonoitalic.TTF
		default:
			return gomono.TTF
		}
	}
	switch {
	case bold && italic:
		return gobolditalic.TTF
	case bold:
		return gobold.TTF
	case italic:
		return goitalic.TTF
	default:
		return goregular.TTF
	}
}

func faceFor(family string, bold, italic bool, size int) (font.Face, error) {
	key := faceKey{family: family, bold: bold, italic: italic, size: size}

	faceMu.Lock()
	defer faceMu.Unlock()
	if f, ok := faces[key]; ok {
		return f, nil
	}
	parsed, err := opentype.Parse(fontData(family, bold, italic))
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{Size: float64(size), DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, fmt.Errorf("failed to create font face: %w", err)
	}
	faces[key] = face
	return face, nil
}

// drawText draws a text layer. The anchor (X, Y) is the vertical centre of
// the text block; alignment decides which edge of each line sits on X.
func drawText(dst *image.RGBA, t Text) error {
	b := dst.Bounds()
	size := int(t.Size / 100 * float64(b.Dy()))
	if size < 1 {
		size = 1
	}
	col, err := ParseColor(t.Color)
	if err != nil {
		return err
	}
	face, err := faceFor(t.Font, t.Bold, t.Italic, size)
	if err != nil {
		return err
	}

	faceMu.Lock()
	defer faceMu.Unlock()

	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil()
	lines := strings.Split(t.Content, "\n")
	blockHeight := lineHeight * len(lines)

	anchorX := int(t.X * float64(b.Dx()))
	top := int(t.Y*float64(b.Dy())) - blockHeight/2

	d := &font.Drawer{Dst: dst, Src: image.NewUniform(col), Face: face}
	for i, line := range lines {
		width := d.MeasureString(line).Round()
		x := anchorX
		switch t.Align {
		case AlignCenter:
			x -= width / 2
		case AlignRight:
			x -= width
		}
		baseline := top + i*lineHeight + metrics.Ascent.Ceil()
		d.Dot = fixed.P(x, baseline)
		d.DrawString(line)
	}
	return nil
}

// ParseColor parses #rgb, #rrggbb and #rrggbbaa colours.
func ParseColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	switch len(hex) {
	case 3:
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]}) + "ff"
	case 6:
		hex += "ff"
	case 8:
	default:
		return color.NRGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
