package grid

import (
	"fmt"
	"math"
	"sort"
)

// axialLayout is a one dimensional stack along z, as used for the blocks of
// an assembly. Every ring holds exactly one position and ring d is K = d.
// With bounds the segments may differ in height; otherwise they are pitch
// tall starting at z = 0.
type axialLayout struct {
	pitch  float64
	bounds []float64
	rings  int
}

func newAxialLayout(spec Spec) (*axialLayout, error) {
	if len(spec.AxialBounds) > 0 {
		b := spec.AxialBounds
		if len(b) < 2 {
			return nil, fmt.Errorf("%w: axial bounds must hold at least two values", ErrInvalidSpec)
		}
		for i := 1; i < len(b); i++ {
			if !(b[i] > b[i-1]) {
				return nil, fmt.Errorf("%w: axial bounds must be strictly increasing", ErrInvalidSpec)
			}
		}
		return &axialLayout{bounds: append([]float64(nil), b...), rings: len(b) - 1}, nil
	}
	if !(spec.Pitch > 0) {
		return nil, fmt.Errorf("%w: axial grid needs a pitch or bounds", ErrInvalidSpec)
	}
	return &axialLayout{pitch: spec.Pitch, rings: spec.Rings}, nil
}

func (a *axialLayout) ringSize(int) int { return 1 }
func (a *axialLayout) extent() int      { return a.rings }

func (a *axialLayout) coordAt(d, _ int) Coord {
	return Coord{K: d}
}

func (a *axialLayout) ringOf(c Coord) (int, int, bool) {
	if c.I != 0 || c.J != 0 || c.K < 0 {
		return 0, 0, false
	}
	return c.K, 0, true
}

func (a *axialLayout) reduce(_, k int, mode Symmetry) (int, bool) {
	return k, mode == SymmetryFull
}

func (a *axialLayout) offset(c Coord) Point {
	if a.bounds != nil {
		return Point{Z: 0.5 * (a.bounds[c.K] + a.bounds[c.K+1])}
	}
	return Point{Z: (float64(c.K) + 0.5) * a.pitch}
}

func (a *axialLayout) locate(p Point) (Coord, bool) {
	if a.bounds == nil {
		if p.Z < 0 {
			return Coord{}, false
		}
		return Coord{K: int(math.Floor(p.Z / a.pitch))}, true
	}
	if p.Z < a.bounds[0] || p.Z > a.bounds[len(a.bounds)-1] {
		return Coord{}, false
	}
	k := sort.Search(len(a.bounds), func(i int) bool { return a.bounds[i] > p.Z }) - 1
	if k >= len(a.bounds)-1 {
		k = len(a.bounds) - 2
	}
	return Coord{K: k}, true
}
