package grid

import (
	"fmt"
	"math"
)

// hexLayout is a flats-up hexagonal lattice in axial coordinates. The i axis
// points 30 degrees above +x and the j axis points along +y.
type hexLayout struct {
	pitch float64
	side  float64
	rings int
}

// Corners of ring d in walk order are d*hexCorners[e]; edge e walks along
// hexSteps[e] for d steps.
var (
	hexCorners = [6][2]int{{1, 0}, {0, 1}, {-1, 1}, {-1, 0}, {0, -1}, {1, -1}}
	hexSteps   = [6][2]int{{-1, 1}, {-1, 0}, {0, -1}, {1, -1}, {1, 0}, {0, 1}}
)

func newHexLayout(spec Spec) (*hexLayout, error) {
	if !(spec.Pitch > 0) {
		return nil, fmt.Errorf("%w: hex pitch must be > 0, got %g", ErrInvalidSpec, spec.Pitch)
	}
	return &hexLayout{
		pitch: spec.Pitch,
		side:  spec.Pitch / math.Sqrt(3),
		rings: spec.Rings,
	}, nil
}

func (h *hexLayout) ringSize(d int) int { return 6 * d }
func (h *hexLayout) extent() int        { return h.rings }

func (h *hexLayout) coordAt(d, k int) Coord {
	if d == 0 {
		return Coord{}
	}
	edge, off := k/d, k%d
	return Coord{
		I: d*hexCorners[edge][0] + off*hexSteps[edge][0],
		J: d*hexCorners[edge][1] + off*hexSteps[edge][1],
	}
}

func (h *hexLayout) ringOf(c Coord) (int, int, bool) {
	if c.K != 0 {
		return 0, 0, false
	}
	i, j := c.I, c.J
	d := max(abs(i), abs(j), abs(i+j))
	if d == 0 {
		return 0, 0, true
	}
	var edge, off int
	switch {
	case i > 0 && j >= 0:
		edge, off = 0, j
	case j == d && i <= 0 && i > -d:
		edge, off = 1, -i
	case i == -d && j > 0:
		edge, off = 2, d-j
	case i+j == -d && j <= 0 && i < 0:
		edge, off = 3, -j
	case j == -d && i >= 0 && i < d:
		edge, off = 4, i
	default:
		edge, off = 5, j+d
	}
	return d, edge*d + off, true
}

// Rotating by 60 degrees advances the walk by d positions, so a 1/3 core
// keeps the first two edges of every ring.
func (h *hexLayout) reduce(d, k int, mode Symmetry) (int, bool) {
	switch mode {
	case SymmetryFull:
		return k, true
	case SymmetryThird:
		if d == 0 {
			return 0, true
		}
		return mod(k, 2*d), true
	default:
		return 0, false
	}
}

func (h *hexLayout) offset(c Coord) Point {
	i, j := float64(c.I), float64(c.J)
	return Point{
		X: 1.5 * h.side * i,
		Y: h.pitch * (j + 0.5*i),
	}
}

func (h *hexLayout) locate(p Point) (Coord, bool) {
	q := p.X / (1.5 * h.side)
	r := p.Y/h.pitch - 0.5*q
	s := -q - r

	rq, rr, rs := math.Round(q), math.Round(r), math.Round(s)
	dq, dr, ds := math.Abs(rq-q), math.Abs(rr-r), math.Abs(rs-s)
	switch {
	case dq > dr && dq > ds:
		rq = -rr - rs
	case dr > ds:
		rr = -rq - rs
	}
	return Coord{I: int(rq), J: int(rr)}, true
}
