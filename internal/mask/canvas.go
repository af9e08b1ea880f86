// Package mask rasterizes brush strokes and detections into a selection mask.
//
// Strokes are drawn into a buffer sized to the on-screen viewport. Export
// always returns the mask at the native resolution of the target image, so
// the viewport scale never leaks into generation requests.
package mask

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/lehigh-university-libraries/retoucher/internal/models"
	"github.com/lehigh-university-libraries/retoucher/internal/utils"
)

// ErrInvalidBox is returned by FromDetection for a box with no area.
var ErrInvalidBox = errors.New("invalid bounding box")

// DefaultBrushRadius is used until SetBrushRadius is called.
const DefaultBrushRadius = 20

// Mode is how the user builds a selection.
type Mode string

const (
	ModeBrush  Mode = "brush"
	ModeObject Mode = "object"
)

// ParseMode accepts "brush" and "object".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBrush, ModeObject:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown selection mode %q", s)
}

// Point is a position in display-buffer pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type stroke struct {
	radius float64
	last   Point
}

// Canvas is the mask for one image layer. It is not safe for concurrent use;
// the owning session serializes access.
type Canvas struct {
	nativeW, nativeH int
	buf              *image.Alpha
	radius           float64
	stroke           *stroke
}

// NewCanvas creates an empty mask for an image of nativeW x nativeH pixels
// displayed at viewW x viewH. A non-positive viewport size means the image is
// displayed at native size.
func NewCanvas(nativeW, nativeH, viewW, viewH int) *Canvas {
	if viewW <= 0 || viewH <= 0 {
		viewW, viewH = nativeW, nativeH
	}
	return &Canvas{
		nativeW: nativeW,
		nativeH: nativeH,
		buf:     image.NewAlpha(image.Rect(0, 0, viewW, viewH)),
		radius:  DefaultBrushRadius,
	}
}

// NativeSize returns the dimensions Export produces.
func (c *Canvas) NativeSize() (int, int) {
	return c.nativeW, c.nativeH
}

// ViewportSize returns the dimensions of the display buffer.
func (c *Canvas) ViewportSize() (int, int) {
	b := c.buf.Bounds()
	return b.Dx(), b.Dy()
}

// SetViewport rescales the display buffer, keeping whatever is already
// painted. An in-progress stroke continues from its rescaled position.
func (c *Canvas) SetViewport(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	oldW, oldH := c.ViewportSize()
	if w == oldW && h == oldH {
		return
	}
	next := image.NewAlpha(image.Rect(0, 0, w, h))
	if !c.Empty() {
		xdraw.ApproxBiLinear.Scale(next, next.Bounds(), c.buf, c.buf.Bounds(), xdraw.Src, nil)
	}
	c.buf = next
	if c.stroke != nil {
		c.stroke.last.X *= float64(w) / float64(oldW)
		c.stroke.last.Y *= float64(h) / float64(oldH)
	}
}

// BrushRadius returns the radius new strokes will use.
func (c *Canvas) BrushRadius() float64 {
	return c.radius
}

// SetBrushRadius changes the radius for strokes started after the call.
func (c *Canvas) SetBrushRadius(r float64) {
	if r <= 0 {
		return
	}
	c.radius = r
}

// Drawing reports whether a stroke is in progress.
func (c *Canvas) Drawing() bool {
	return c.stroke != nil
}

// StartStroke begins a stroke and stamps the first impression. Points outside
// the canvas are clamped to its edge.
func (c *Canvas) StartStroke(p Point) {
	p = c.clamp(p)
	c.stroke = &stroke{radius: c.radius, last: p}
	c.stamp(p, c.radius)
}

// ContinueStroke paints from the previous point to p. Without a started
// stroke it starts one.
func (c *Canvas) ContinueStroke(p Point) {
	if c.stroke == nil {
		c.StartStroke(p)
		return
	}
	p = c.clamp(p)
	c.segment(c.stroke.last, p, c.stroke.radius)
	c.stroke.last = p
}

// EndStroke finishes the current stroke.
func (c *Canvas) EndStroke() {
	c.stroke = nil
}

// Clear resets the mask to fully empty and abandons any stroke.
func (c *Canvas) Clear() {
	clear(c.buf.Pix)
	c.stroke = nil
}

// Empty reports whether no pixel is selected.
func (c *Canvas) Empty() bool {
	for _, v := range c.buf.Pix {
		if v != 0 {
			return false
		}
	}
	return true
}

// Export returns the mask at native resolution.
func (c *Canvas) Export() *image.Alpha {
	w, h := c.ViewportSize()
	if w == c.nativeW && h == c.nativeH {
		return utils.CloneAlpha(c.buf)
	}
	out := image.NewAlpha(image.Rect(0, 0, c.nativeW, c.nativeH))
	xdraw.ApproxBiLinear.Scale(out, out.Bounds(), c.buf, c.buf.Bounds(), xdraw.Src, nil)
	return out
}

// FromDetection fills the detection's normalized box, grown on every side by
// padding times the box size. It adds to whatever is already selected.
func (c *Canvas) FromDetection(obj models.DetectedObject, padding float64) error {
	box := obj.Box
	if box.XMax <= box.XMin || box.YMax <= box.YMin {
		return fmt.Errorf("%w: %q", ErrInvalidBox, obj.Label)
	}
	if padding < 0 {
		padding = 0
	}
	padX := (box.XMax - box.XMin) * padding
	padY := (box.YMax - box.YMin) * padding

	w, h := c.ViewportSize()
	rect := image.Rect(
		int(math.Floor((box.XMin-padX)*float64(w))),
		int(math.Floor((box.YMin-padY)*float64(h))),
		int(math.Ceil((box.XMax+padX)*float64(w))),
		int(math.Ceil((box.YMax+padY)*float64(h))),
	).Intersect(c.buf.Bounds())

	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		row := c.buf.Pix[c.buf.PixOffset(rect.Min.X, y):c.buf.PixOffset(rect.Max.X, y)]
		for i := range row {
			row[i] = 0xff
		}
	}
	return nil
}

// Overlay renders the mask as a tinted, semi-transparent display image at
// viewport resolution. The tint's alpha caps the overlay opacity.
func (c *Canvas) Overlay(tint color.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(c.buf.Bounds())
	for i, v := range c.buf.Pix {
		if v == 0 {
			continue
		}
		o := i * 4
		out.Pix[o] = tint.R
		out.Pix[o+1] = tint.G
		out.Pix[o+2] = tint.B
		out.Pix[o+3] = uint8(uint32(v) * uint32(tint.A) / 0xff)
	}
	return out
}

func (c *Canvas) clamp(p Point) Point {
	w, h := c.ViewportSize()
	p.X = math.Max(0, math.Min(p.X, float64(w)))
	p.Y = math.Max(0, math.Min(p.Y, float64(h)))
	return p
}

// segment stamps impressions from a to b no more than a quarter radius apart.
func (c *Canvas) segment(a, b Point, r float64) {
	dist := math.Hypot(b.X-a.X, b.Y-a.Y)
	step := math.Max(r/4, 0.5)
	n := int(math.Ceil(dist / step))
	for i := 1; i <= n; i++ {
		t := float64(i) / float64(n)
		c.stamp(Point{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}, r)
	}
}

// stamp paints a disc with a one pixel antialiased rim. Coverage only ever
// grows, so painting a pixel twice changes nothing.
func (c *Canvas) stamp(p Point, r float64) {
	bounds := c.buf.Bounds()
	area := image.Rect(
		int(math.Floor(p.X-r-1)), int(math.Floor(p.Y-r-1)),
		int(math.Ceil(p.X+r+1)), int(math.Ceil(p.Y+r+1)),
	).Intersect(bounds)

	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			d := math.Hypot(float64(x)+0.5-p.X, float64(y)+0.5-p.Y)
			cov := r + 0.5 - d
			if cov <= 0 {
				continue
			}
			v := uint8(0xff)
			if cov < 1 {
				v = uint8(math.Round(cov * 0xff))
			}
			i := c.buf.PixOffset(x, y)
			if v > c.buf.Pix[i] {
				c.buf.Pix[i] = v
			}
		}
	}
}
