package grid

import (
	"fmt"
	"math"
)

// cartesianLayout is a square lattice centred on the origin. Ring d is the
// square of cells at Chebyshev distance d, walked counter-clockwise from
// (d, 0).
type cartesianLayout struct {
	pitch float64
	rings int
}

func newCartesianLayout(spec Spec) (*cartesianLayout, error) {
	if !(spec.Pitch > 0) {
		return nil, fmt.Errorf("%w: cartesian pitch must be > 0, got %g", ErrInvalidSpec, spec.Pitch)
	}
	return &cartesianLayout{pitch: spec.Pitch, rings: spec.Rings}, nil
}

func (c *cartesianLayout) ringSize(d int) int { return 8 * d }
func (c *cartesianLayout) extent() int        { return c.rings }

func (c *cartesianLayout) coordAt(d, k int) Coord {
	switch {
	case d == 0:
		return Coord{}
	case k <= d:
		return Coord{I: d, J: k}
	case k <= 3*d:
		return Coord{I: 2*d - k, J: d}
	case k <= 5*d:
		return Coord{I: -d, J: 4*d - k}
	case k <= 7*d:
		return Coord{I: k - 6*d, J: -d}
	default:
		return Coord{I: d, J: k - 8*d}
	}
}

func (c *cartesianLayout) ringOf(co Coord) (int, int, bool) {
	if co.K != 0 {
		return 0, 0, false
	}
	i, j := co.I, co.J
	d := max(abs(i), abs(j))
	switch {
	case d == 0:
		return 0, 0, true
	case i == d && j >= 0:
		return d, j, true
	case j == d:
		return d, 2*d - i, true
	case i == -d:
		return d, 4*d - j, true
	case j == -d:
		return d, 6*d + i, true
	default:
		return d, 8*d + j, true
	}
}

// A quarter turn advances the walk by 2d. The eighth domain additionally
// reflects about the i == j diagonal.
func (c *cartesianLayout) reduce(d, k int, mode Symmetry) (int, bool) {
	if d == 0 {
		switch mode {
		case SymmetryFull, SymmetryQuarter, SymmetryEighth:
			return 0, true
		default:
			return 0, false
		}
	}
	switch mode {
	case SymmetryFull:
		return k, true
	case SymmetryQuarter:
		return mod(k, 2*d), true
	case SymmetryEighth:
		r := mod(k, 2*d)
		if r > d {
			r = 2*d - r
		}
		return r, true
	default:
		return 0, false
	}
}

func (c *cartesianLayout) offset(co Coord) Point {
	return Point{X: float64(co.I) * c.pitch, Y: float64(co.J) * c.pitch}
}

func (c *cartesianLayout) locate(p Point) (Coord, bool) {
	return Coord{
		I: int(math.Round(p.X / c.pitch)),
		J: int(math.Round(p.Y / c.pitch)),
	}, true
}
