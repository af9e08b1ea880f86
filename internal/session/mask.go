package session

import (
	"fmt"
	"image"
	"image/color"

	"github.com/lehigh-university-libraries/retoucher/internal/mask"
	"github.com/lehigh-university-libraries/retoucher/internal/tools"
)

var overlayTint = color.NRGBA{R: 0xff, G: 0x30, B: 0x30, A: 0x80}

func (s *Session) StartStroke(p mask.Point) error {
	return s.update("mask", func() error {
		s.mask.StartStroke(p)
		return nil
	})
}

func (s *Session) ContinueStroke(p mask.Point) error {
	return s.update("mask", func() error {
		s.mask.ContinueStroke(p)
		return nil
	})
}

func (s *Session) EndStroke() error {
	return s.update("mask", func() error {
		s.mask.EndStroke()
		return nil
	})
}

// Stroke paints a whole stroke given in screen coordinates under viewport vp.
func (s *Session) Stroke(vp mask.Viewport, points []mask.Point) error {
	if len(points) == 0 {
		return fmt.Errorf("%w: a stroke needs at least one point", tools.ErrValidation)
	}
	canvas := make([]mask.Point, len(points))
	for i, p := range points {
		c, err := vp.ToCanvas(p)
		if err != nil {
			return fmt.Errorf("%w: %v", tools.ErrValidation, err)
		}
		canvas[i] = c
	}
	return s.update("mask", func() error {
		s.mask.StartStroke(canvas[0])
		for _, p := range canvas[1:] {
			s.mask.ContinueStroke(p)
		}
		s.mask.EndStroke()
		return nil
	})
}

// SetBrushRadius changes the radius used by strokes started afterwards.
func (s *Session) SetBrushRadius(r float64) error {
	if r <= 0 {
		return fmt.Errorf("%w: brush radius must be positive", tools.ErrValidation)
	}
	return s.update("brush", func() error {
		s.mask.SetBrushRadius(r)
		return nil
	})
}

func (s *Session) ClearMask() error {
	return s.update("mask", func() error {
		s.mask.Clear()
		return nil
	})
}

// minViewportLimit is the largest viewport side always accepted; larger
// images allow up to twice their own size.
const minViewportLimit = 4096

func viewportLimit(native int) int {
	return max(2*native, minViewportLimit)
}

// SetViewport records the display size of the image. Painting done so far is
// rescaled, so the selection stays where it was drawn.
func (s *Session) SetViewport(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: viewport must have a positive size", tools.ErrValidation)
	}
	return s.update("viewport", func() error {
		nw, nh := s.mask.NativeSize()
		if w > viewportLimit(nw) || h > viewportLimit(nh) {
			return fmt.Errorf("%w: viewport %dx%d is too large for a %dx%d image", tools.ErrValidation, w, h, nw, nh)
		}
		s.viewW, s.viewH = w, h
		s.mask.SetViewport(w, h)
		return nil
	})
}

// SetSelectionMode switches between brush and object selection. The mask is
// cleared so a selection made one way is never reused the other way.
func (s *Session) SetSelectionMode(m mask.Mode) error {
	return s.update("mode", func() error {
		if s.mode != m {
			s.mode = m
			s.mask.Clear()
		}
		return nil
	})
}

// SelectDetection adds the detection at index to the mask.
func (s *Session) SelectDetection(index int) error {
	return s.update("mask", func() error {
		if index < 0 || index >= len(s.detections) {
			return fmt.Errorf("%w: no detection %d", tools.ErrValidation, index)
		}
		return s.mask.FromDetection(s.detections[index], s.opts.DetectionPadding)
	})
}

// MaskOverlay renders the selection for display at viewport resolution.
func (s *Session) MaskOverlay() *image.NRGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mask.Overlay(overlayTint)
}

// ExportMask returns the selection at the native resolution of its layer.
func (s *Session) ExportMask() *image.Alpha {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mask.Export()
}
