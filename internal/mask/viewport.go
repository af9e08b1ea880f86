package mask

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Viewport is the on-screen view of the display buffer: screen = zoom*canvas
// + pan. A zero zoom is treated as 1.
type Viewport struct {
	Zoom float64 `json:"zoom"`
	PanX float64 `json:"pan_x"`
	PanY float64 `json:"pan_y"`
}

func (v Viewport) matrix() *mat.Dense {
	z := v.Zoom
	if z == 0 {
		z = 1
	}
	return mat.NewDense(3, 3, []float64{
		z, 0, v.PanX,
		0, z, v.PanY,
		0, 0, 1,
	})
}

// ToCanvas maps a screen-space pointer position to display-buffer
// coordinates by solving the view transform for the canvas point.
func (v Viewport) ToCanvas(screen Point) (Point, error) {
	b := mat.NewVecDense(3, []float64{screen.X, screen.Y, 1})
	var p mat.VecDense
	if err := p.SolveVec(v.matrix(), b); err != nil {
		return Point{}, fmt.Errorf("failed to invert viewport transform: %w", err)
	}
	return Point{X: p.AtVec(0), Y: p.AtVec(1)}, nil
}

// ToScreen maps a display-buffer point to screen space.
func (v Viewport) ToScreen(p Point) Point {
	var s mat.VecDense
	s.MulVec(v.matrix(), mat.NewVecDense(3, []float64{p.X, p.Y, 1}))
	return Point{X: s.AtVec(0), Y: s.AtVec(1)}
}
