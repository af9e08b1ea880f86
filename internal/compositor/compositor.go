// Package compositor blends generated candidates into the committed image.
//
// Every policy goes through one contract: each output pixel is a linear mix of
// original and candidate, weighted by mask coverage times opacity. Outputs are
// always new images; nothing here touches history.
package compositor

import (
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/lehigh-university-libraries/retoucher/internal/tools"
	"github.com/lehigh-university-libraries/retoucher/internal/utils"
)

// full is the weight of a fully covered pixel at opacity 100.
const full = 0xff * 100

// Options controls a blend.
type Options struct {
	// Mask scopes the blend. Nil means every pixel is covered.
	Mask *image.Alpha
	// Opacity is a percentage in [0,100].
	Opacity int
	// Mask values at or below Threshold count as unselected.
	Threshold uint8
}

// Blend mixes candidate into original. The candidate is resampled to the
// original's size first. With an all-zero mask or zero opacity the result
// equals original byte for byte; with full coverage at opacity 100 it equals
// the candidate.
func Blend(original, candidate image.Image, opts Options) *image.RGBA {
	out := utils.CloneRGBA(original)
	b := out.Bounds()
	cand := Resample(candidate, b.Dx(), b.Dy())

	opacity := clampOpacity(opts.Opacity)
	if opacity == 0 {
		return out
	}

	var mask *image.Alpha
	if opts.Mask != nil {
		mask = resampleMask(opts.Mask, b.Dx(), b.Dy())
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			m := uint32(0xff)
			if mask != nil {
				m = uint32(mask.Pix[mask.PixOffset(x, y)])
				if m <= uint32(opts.Threshold) {
					continue
				}
			}
			w := m * uint32(opacity)
			i := out.PixOffset(x, y)
			if w == full {
				copy(out.Pix[i:i+4], cand.Pix[i:i+4])
				continue
			}
			for c := 0; c < 4; c++ {
				o := uint32(out.Pix[i+c])
				n := uint32(cand.Pix[i+c])
				out.Pix[i+c] = uint8((o*(full-w) + n*w + full/2) / full)
			}
		}
	}
	return out
}

// Compose applies a tool's blend policy. Replace with a candidate of a
// different size returns the candidate as is, so expansion can change the
// canvas; every other case blends at the original's size.
func Compose(policy tools.Policy, original, candidate image.Image, opts Options) *image.RGBA {
	switch policy {
	case tools.PolicyReplace:
		if original.Bounds().Size() != candidate.Bounds().Size() {
			return utils.CloneRGBA(candidate)
		}
		opts.Mask = nil
	case tools.PolicyOpacityBlend:
		opts.Mask = nil
	case tools.PolicyMaskBlend:
	}
	return Blend(original, candidate, opts)
}

// Split shows the candidate in the columns left of position percent of the
// width and the original in the rest.
func Split(original, candidate image.Image, position int) *image.RGBA {
	out := utils.CloneRGBA(original)
	b := out.Bounds()
	cand := Resample(candidate, b.Dx(), b.Dy())

	edge := b.Dx() * clampOpacity(position) / 100
	if edge == 0 {
		return out
	}
	for y := 0; y < b.Dy(); y++ {
		i := out.PixOffset(0, y)
		copy(out.Pix[i:i+edge*4], cand.Pix[i:i+edge*4])
	}
	return out
}

// Resample returns img as an RGBA of exactly w x h. Images already at that
// size are copied without filtering.
func Resample(img image.Image, w, h int) *image.RGBA {
	if img.Bounds().Dx() == w && img.Bounds().Dy() == h {
		return utils.CloneRGBA(img)
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(out, out.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return out
}

func resampleMask(m *image.Alpha, w, h int) *image.Alpha {
	if m.Bounds().Dx() == w && m.Bounds().Dy() == h {
		return utils.CloneAlpha(m)
	}
	out := image.NewAlpha(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(out, out.Bounds(), m, m.Bounds(), xdraw.Src, nil)
	return out
}

func clampOpacity(v int) int {
	return max(0, min(v, 100))
}
