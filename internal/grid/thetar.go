package grid

import (
	"fmt"
	"math"
	"sort"
)

// thetaRLayout divides a disk into annuli by radius and each annulus into
// equal azimuthal sectors. Ring 1 is the central disk. Coordinates are
// (I = annulus index, J = sector index).
type thetaRLayout struct {
	bounds []float64
	bins   int
}

func newThetaRLayout(spec Spec) (*thetaRLayout, error) {
	b := spec.RadialBounds
	if len(b) < 2 || b[0] != 0 {
		return nil, fmt.Errorf("%w: theta-r radial bounds must start at 0 and hold at least two values", ErrInvalidSpec)
	}
	for i := 1; i < len(b); i++ {
		if !(b[i] > b[i-1]) {
			return nil, fmt.Errorf("%w: theta-r radial bounds must be strictly increasing", ErrInvalidSpec)
		}
	}
	if spec.AzimuthalBins < 1 {
		return nil, fmt.Errorf("%w: theta-r azimuthal bins must be >= 1, got %d", ErrInvalidSpec, spec.AzimuthalBins)
	}
	return &thetaRLayout{bounds: append([]float64(nil), b...), bins: spec.AzimuthalBins}, nil
}

func (t *thetaRLayout) ringSize(int) int { return t.bins }
func (t *thetaRLayout) extent() int      { return len(t.bounds) - 1 }

func (t *thetaRLayout) coordAt(d, k int) Coord {
	if d == 0 {
		return Coord{}
	}
	return Coord{I: d, J: k}
}

func (t *thetaRLayout) ringOf(c Coord) (int, int, bool) {
	switch {
	case c.K != 0 || c.I < 0:
		return 0, 0, false
	case c.I == 0:
		return 0, 0, c.J == 0
	case c.J < 0 || c.J >= t.bins:
		return 0, 0, false
	default:
		return c.I, c.J, true
	}
}

func (t *thetaRLayout) reduce(_, k int, mode Symmetry) (int, bool) {
	return k, mode == SymmetryFull
}

func (t *thetaRLayout) offset(c Coord) Point {
	if c.I == 0 {
		return Point{}
	}
	r := 0.5 * (t.bounds[c.I] + t.bounds[c.I+1])
	theta := (float64(c.J) + 0.5) * t.sector()
	return Point{X: r * math.Cos(theta), Y: r * math.Sin(theta)}
}

func (t *thetaRLayout) locate(p Point) (Coord, bool) {
	r := math.Hypot(p.X, p.Y)
	if r > t.bounds[len(t.bounds)-1] {
		return Coord{}, false
	}
	// The first bound strictly above r is the outer edge of r's annulus.
	ring := sort.Search(len(t.bounds), func(i int) bool { return t.bounds[i] > r }) - 1
	if ring < 0 {
		ring = 0
	}
	if ring >= len(t.bounds)-1 {
		ring = len(t.bounds) - 2
	}
	if ring == 0 {
		return Coord{}, true
	}
	theta := math.Atan2(p.Y, p.X)
	if theta < 0 {
		theta += 2 * math.Pi
	}
	sector := int(math.Floor(theta / t.sector()))
	if sector >= t.bins {
		sector = t.bins - 1
	}
	return Coord{I: ring, J: sector}, true
}

func (t *thetaRLayout) sector() float64 {
	return 2 * math.Pi / float64(t.bins)
}
