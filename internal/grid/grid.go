// Package grid converts discrete lattice coordinates to physical offsets and
// back for the lattices a reactor model places its children on: hexagonal,
// Cartesian, theta-R and axial stacks.
//
// Every lattice is ring indexed. Ring 1 is the single central position and
// each outer ring is walked counter-clockwise starting on the +i axis, so a
// rotational symmetry reduces to a fixed stride along the ring walk.
package grid

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

var (
	ErrInvalidPosition = errors.New("invalid grid position")
	ErrOutOfDomain     = errors.New("coordinate outside symmetry domain")
	ErrInvalidSpec     = errors.New("invalid grid spec")
)

type Kind string

const (
	KindHex       Kind = "hex"
	KindCartesian Kind = "cartesian"
	KindThetaR    Kind = "thetar"
	KindAxial     Kind = "axial"
)

type Symmetry string

const (
	SymmetryFull    Symmetry = "full"
	SymmetryThird   Symmetry = "third-periodic"
	SymmetryQuarter Symmetry = "quarter-periodic"
	SymmetryEighth  Symmetry = "eighth-periodic"
)

// ParseKind normalizes a user supplied grid kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindHex, KindCartesian, KindThetaR, KindAxial:
		return k, nil
	case "cart":
		return KindCartesian, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidSpec, s)
	}
}

// ParseSymmetry normalizes a user supplied symmetry mode. Fractions such as
// "1/3" are accepted as aliases.
func ParseSymmetry(s string) (Symmetry, error) {
	switch m := Symmetry(strings.ToLower(strings.TrimSpace(s))); m {
	case "", SymmetryFull, "1":
		return SymmetryFull, nil
	case SymmetryThird, "third", "1/3":
		return SymmetryThird, nil
	case SymmetryQuarter, "quarter", "1/4":
		return SymmetryQuarter, nil
	case SymmetryEighth, "eighth", "1/8":
		return SymmetryEighth, nil
	default:
		return "", fmt.Errorf("%w: unknown symmetry %q", ErrInvalidSpec, s)
	}
}

// Coord is an integer lattice index. Planar lattices use I and J; axial
// stacks use K.
type Coord struct {
	I int `json:"i"`
	J int `json:"j"`
	K int `json:"k"`
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c.I, c.J, c.K)
}

// Point is a physical offset relative to the owning grid's origin.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Spec is the serializable definition of a grid. Rings bounds the extent of
// hex, Cartesian and uniform axial grids; zero means unbounded. Theta-R and
// bounded axial grids derive their extent from their bounds.
type Spec struct {
	Kind          Kind      `json:"kind" yaml:"kind"`
	Pitch         float64   `json:"pitch,omitempty" yaml:"pitch,omitempty"`
	Symmetry      Symmetry  `json:"symmetry,omitempty" yaml:"symmetry,omitempty"`
	Rings         int       `json:"rings,omitempty" yaml:"rings,omitempty"`
	RadialBounds  []float64 `json:"radial_bounds,omitempty" yaml:"radial_bounds,omitempty"`
	AzimuthalBins int       `json:"azimuthal_bins,omitempty" yaml:"azimuthal_bins,omitempty"`
	AxialBounds   []float64 `json:"axial_bounds,omitempty" yaml:"axial_bounds,omitempty"`
}

// Grid is the geometry contract shared by every lattice kind.
type Grid interface {
	Spec() Spec
	Kind() Kind
	Symmetry() Symmetry
	// MaxRings is the number of rings in the grid extent, zero when unbounded.
	MaxRings() int
	PositionsInRing(ring int) int
	RingPositionToCoord(ring, pos int) (Coord, error)
	CoordToRingPosition(c Coord) (ring, pos int, err error)
	Offset(c Coord) (Point, error)
	Locate(p Point) (Coord, error)
	// Rings yields every coordinate within n rings, ring by ring and then
	// position by position.
	Rings(n int) iter.Seq[Coord]
	// Coords yields the coordinates of the grid extent that lie inside the
	// grid's own symmetry domain, in ring order. It is infinite for
	// unbounded grids.
	Coords() iter.Seq[Coord]
	ApplySymmetry(c Coord, mode Symmetry) (Coord, error)
	InDomain(c Coord) bool
	Validate(c Coord) error
}

// New builds the grid described by spec.
func New(spec Spec) (Grid, error) {
	kind, err := ParseKind(string(spec.Kind))
	if err != nil {
		return nil, err
	}
	spec.Kind = kind
	mode, err := ParseSymmetry(string(spec.Symmetry))
	if err != nil {
		return nil, err
	}
	spec.Symmetry = mode
	if spec.Rings < 0 {
		return nil, fmt.Errorf("%w: rings must be >= 0, got %d", ErrInvalidSpec, spec.Rings)
	}

	var l layout
	switch kind {
	case KindHex:
		l, err = newHexLayout(spec)
	case KindCartesian:
		l, err = newCartesianLayout(spec)
	case KindThetaR:
		l, err = newThetaRLayout(spec)
	case KindAxial:
		l, err = newAxialLayout(spec)
	}
	if err != nil {
		return nil, err
	}
	if _, ok := l.reduce(1, 0, mode); !ok {
		return nil, fmt.Errorf("%w: %s grid does not support %s symmetry", ErrInvalidSpec, kind, mode)
	}
	return &lattice{spec: cloneSpec(spec), layout: l}, nil
}

// MustNew is New for package-level fixtures and tests.
func MustNew(spec Spec) Grid {
	g, err := New(spec)
	if err != nil {
		panic(err)
	}
	return g
}

func cloneSpec(s Spec) Spec {
	out := s
	out.RadialBounds = append([]float64(nil), s.RadialBounds...)
	out.AxialBounds = append([]float64(nil), s.AxialBounds...)
	if len(out.RadialBounds) == 0 {
		out.RadialBounds = nil
	}
	if len(out.AxialBounds) == 0 {
		out.AxialBounds = nil
	}
	return out
}
