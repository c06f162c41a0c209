package grid

import (
	"fmt"
	"iter"
)

// layout is the kind specific part of a lattice. Rings are addressed by
// distance d from the centre (ring = d+1) and by k, the 0-based index along
// the counter-clockwise ring walk.
type layout interface {
	// ringSize is the number of positions at distance d >= 1.
	ringSize(d int) int
	coordAt(d, k int) Coord
	ringOf(c Coord) (d, k int, ok bool)
	// reduce maps k to its canonical index under mode. ok is false when the
	// lattice does not support mode.
	reduce(d, k int, mode Symmetry) (int, bool)
	// extent is the number of rings, zero when unbounded.
	extent() int
	offset(c Coord) Point
	locate(p Point) (Coord, bool)
}

type lattice struct {
	spec   Spec
	layout layout
}

func (g *lattice) Spec() Spec         { return cloneSpec(g.spec) }
func (g *lattice) Kind() Kind         { return g.spec.Kind }
func (g *lattice) Symmetry() Symmetry { return g.spec.Symmetry }
func (g *lattice) MaxRings() int      { return g.layout.extent() }

func (g *lattice) String() string {
	return fmt.Sprintf("%s/%s", g.spec.Kind, g.spec.Symmetry)
}

func (g *lattice) PositionsInRing(ring int) int {
	switch {
	case ring < 1:
		return 0
	case ring == 1:
		return 1
	default:
		return g.layout.ringSize(ring - 1)
	}
}

func (g *lattice) RingPositionToCoord(ring, pos int) (Coord, error) {
	if ring < 1 {
		return Coord{}, fmt.Errorf("%w: ring %d (rings start at 1)", ErrInvalidPosition, ring)
	}
	if n := g.layout.extent(); n > 0 && ring > n {
		return Coord{}, fmt.Errorf("%w: ring %d beyond grid extent of %d rings", ErrInvalidPosition, ring, n)
	}
	if size := g.PositionsInRing(ring); pos < 1 || pos > size {
		return Coord{}, fmt.Errorf("%w: position %d in ring %d (1..%d)", ErrInvalidPosition, pos, ring, size)
	}
	return g.layout.coordAt(ring-1, pos-1), nil
}

func (g *lattice) CoordToRingPosition(c Coord) (int, int, error) {
	d, k, err := g.ring(c)
	if err != nil {
		return 0, 0, err
	}
	return d + 1, k + 1, nil
}

func (g *lattice) Offset(c Coord) (Point, error) {
	if _, _, err := g.ring(c); err != nil {
		return Point{}, err
	}
	return g.layout.offset(c), nil
}

func (g *lattice) Locate(p Point) (Coord, error) {
	c, ok := g.layout.locate(p)
	if !ok {
		return Coord{}, fmt.Errorf("%w: point (%g,%g,%g) outside grid", ErrInvalidPosition, p.X, p.Y, p.Z)
	}
	if _, _, err := g.ring(c); err != nil {
		return Coord{}, err
	}
	return c, nil
}

func (g *lattice) Rings(n int) iter.Seq[Coord] {
	if limit := g.layout.extent(); limit > 0 && n > limit {
		n = limit
	}
	return func(yield func(Coord) bool) {
		for d := 0; d < n; d++ {
			size := 1
			if d > 0 {
				size = g.layout.ringSize(d)
			}
			for k := 0; k < size; k++ {
				if !yield(g.layout.coordAt(d, k)) {
					return
				}
			}
		}
	}
}

func (g *lattice) Coords() iter.Seq[Coord] {
	n := g.layout.extent()
	return func(yield func(Coord) bool) {
		for d := 0; n == 0 || d < n; d++ {
			size := 1
			if d > 0 {
				size = g.layout.ringSize(d)
			}
			for k := 0; k < size; k++ {
				if canon, _ := g.layout.reduce(d, k, g.spec.Symmetry); canon != k {
					continue
				}
				if !yield(g.layout.coordAt(d, k)) {
					return
				}
			}
		}
	}
}

func (g *lattice) ApplySymmetry(c Coord, mode Symmetry) (Coord, error) {
	d, k, ok := g.layout.ringOf(c)
	if !ok {
		return Coord{}, fmt.Errorf("%w: %s is not a %s lattice point", ErrOutOfDomain, c, g.spec.Kind)
	}
	if n := g.layout.extent(); n > 0 && d >= n {
		return Coord{}, fmt.Errorf("%w: %s beyond grid extent of %d rings", ErrOutOfDomain, c, n)
	}
	canon, ok := g.layout.reduce(d, k, mode)
	if !ok {
		return Coord{}, fmt.Errorf("%w: %s grid does not support %s symmetry", ErrOutOfDomain, g.spec.Kind, mode)
	}
	return g.layout.coordAt(d, canon), nil
}

func (g *lattice) InDomain(c Coord) bool {
	return g.Validate(c) == nil
}

func (g *lattice) Validate(c Coord) error {
	d, k, err := g.ring(c)
	if err != nil {
		return err
	}
	if canon, _ := g.layout.reduce(d, k, g.spec.Symmetry); canon != k {
		return fmt.Errorf("%w: %s under %s symmetry", ErrOutOfDomain, c, g.spec.Symmetry)
	}
	return nil
}

func (g *lattice) ring(c Coord) (int, int, error) {
	d, k, ok := g.layout.ringOf(c)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s is not a %s lattice point", ErrInvalidPosition, c, g.spec.Kind)
	}
	if n := g.layout.extent(); n > 0 && d >= n {
		return 0, 0, fmt.Errorf("%w: %s beyond grid extent of %d rings", ErrInvalidPosition, c, n)
	}
	return d, k, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func mod(a, n int) int {
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}
