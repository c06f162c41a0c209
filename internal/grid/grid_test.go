package grid

import (
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexPositionsInRing(t *testing.T) {
	g := MustNew(Spec{Kind: KindHex, Pitch: 1})
	assert.Equal(t, 0, g.PositionsInRing(0))
	assert.Equal(t, 1, g.PositionsInRing(1))
	for ring := 2; ring <= 30; ring++ {
		assert.Equal(t, 6*(ring-1), g.PositionsInRing(ring), "ring %d", ring)
	}
}

func TestRingPositionRoundTrip(t *testing.T) {
	specs := []Spec{
		{Kind: KindHex, Pitch: 16.2},
		{Kind: KindCartesian, Pitch: 1.26},
		{Kind: KindThetaR, RadialBounds: []float64{0, 1, 2, 3, 4, 5, 6, 7, 8}, AzimuthalBins: 12},
		{Kind: KindAxial, Pitch: 10, Rings: 12},
	}
	for _, spec := range specs {
		t.Run(string(spec.Kind), func(t *testing.T) {
			g := MustNew(spec)
			seen := make(map[Coord]bool)
			for ring := 1; ring <= 8; ring++ {
				for pos := 1; pos <= g.PositionsInRing(ring); pos++ {
					c, err := g.RingPositionToCoord(ring, pos)
					require.NoError(t, err)
					require.False(t, seen[c], "coordinate %s produced twice", c)
					seen[c] = true

					gotRing, gotPos, err := g.CoordToRingPosition(c)
					require.NoError(t, err)
					require.Equal(t, []int{ring, pos}, []int{gotRing, gotPos}, "coord %s", c)
				}
			}
		})
	}
}

func TestRingPositionToCoordRejectsInvalid(t *testing.T) {
	g := MustNew(Spec{Kind: KindHex, Pitch: 1, Rings: 3})
	cases := []struct {
		ring, pos int
	}{
		{0, 1},
		{-1, 1},
		{1, 0},
		{1, 2},
		{2, 7},
		{4, 1},
	}
	for _, tc := range cases {
		_, err := g.RingPositionToCoord(tc.ring, tc.pos)
		assert.ErrorIs(t, err, ErrInvalidPosition, "ring=%d pos=%d", tc.ring, tc.pos)
	}
}

func TestHexFirstRingMatchesNeighbours(t *testing.T) {
	g := MustNew(Spec{Kind: KindHex, Pitch: 2})
	for c := range g.Rings(2) {
		if c == (Coord{}) {
			continue
		}
		p, err := g.Offset(c)
		require.NoError(t, err)
		assert.InDelta(t, 2.0, math.Hypot(p.X, p.Y), 1e-12, "neighbour %s", c)
	}
}

func TestOffsetRoundTrip(t *testing.T) {
	specs := []Spec{
		{Kind: KindHex, Pitch: 21.6},
		{Kind: KindCartesian, Pitch: 1.26},
		{Kind: KindThetaR, RadialBounds: []float64{0, 0.5, 1.5, 2.5, 4, 6, 9, 12}, AzimuthalBins: 8},
		{Kind: KindAxial, AxialBounds: []float64{0, 25, 50, 80, 120, 160, 200, 210}},
	}
	for _, spec := range specs {
		t.Run(string(spec.Kind), func(t *testing.T) {
			g := MustNew(spec)
			for c := range g.Rings(7) {
				p, err := g.Offset(c)
				require.NoError(t, err)
				back, err := g.Locate(p)
				require.NoError(t, err)
				assert.Equal(t, c, back)

				again, err := g.Offset(c)
				require.NoError(t, err)
				assert.Equal(t, p, again)
			}
		})
	}
}

func TestRingsOrderingIsDeterministic(t *testing.T) {
	g := MustNew(Spec{Kind: KindHex, Pitch: 1})
	first := slices.Collect(g.Rings(4))
	second := slices.Collect(g.Rings(4))
	require.Len(t, first, 1+6+12+18)
	assert.Equal(t, first, second)
	assert.Equal(t, Coord{}, first[0])
	assert.Equal(t, Coord{I: 1}, first[1])

	var ringOrder []int
	for _, c := range first {
		ring, _, err := g.CoordToRingPosition(c)
		require.NoError(t, err)
		ringOrder = append(ringOrder, ring)
	}
	assert.True(t, slices.IsSorted(ringOrder))
}

func TestRingsStopsEarly(t *testing.T) {
	g := MustNew(Spec{Kind: KindCartesian, Pitch: 1})
	count := 0
	for range g.Rings(100) {
		count++
		if count == 5 {
			break
		}
	}
	assert.Equal(t, 5, count)
}

func TestHexThirdSymmetry(t *testing.T) {
	g := MustNew(Spec{Kind: KindHex, Pitch: 1, Rings: 6})
	for c := range g.Rings(6) {
		canon, err := g.ApplySymmetry(c, SymmetryThird)
		require.NoError(t, err)

		rotated := Coord{I: -c.I - c.J, J: c.I}
		canonRotated, err := g.ApplySymmetry(rotated, SymmetryThird)
		require.NoError(t, err)
		assert.Equal(t, canon, canonRotated, "120 degree rotation of %s", c)

		_, pos, err := g.CoordToRingPosition(canon)
		require.NoError(t, err)
		ring, _, _ := g.CoordToRingPosition(c)
		if ring > 1 {
			assert.LessOrEqual(t, pos, 2*(ring-1))
		}
	}
}

func TestCartesianQuarterAndEighthSymmetry(t *testing.T) {
	g := MustNew(Spec{Kind: KindCartesian, Pitch: 1, Rings: 5})
	for c := range g.Rings(5) {
		quarter, err := g.ApplySymmetry(c, SymmetryQuarter)
		require.NoError(t, err)
		rotated, err := g.ApplySymmetry(Coord{I: -c.J, J: c.I}, SymmetryQuarter)
		require.NoError(t, err)
		assert.Equal(t, quarter, rotated)

		eighth, err := g.ApplySymmetry(c, SymmetryEighth)
		require.NoError(t, err)
		mirrored, err := g.ApplySymmetry(Coord{I: c.J, J: c.I}, SymmetryEighth)
		require.NoError(t, err)
		assert.Equal(t, eighth, mirrored)
		assert.GreaterOrEqual(t, eighth.I, eighth.J)
		assert.GreaterOrEqual(t, eighth.J, 0)
	}
}

func TestApplySymmetryFailures(t *testing.T) {
	hex := MustNew(Spec{Kind: KindHex, Pitch: 1, Rings: 3})
	_, err := hex.ApplySymmetry(Coord{I: 5}, SymmetryThird)
	assert.ErrorIs(t, err, ErrOutOfDomain)
	_, err = hex.ApplySymmetry(Coord{I: 1}, SymmetryQuarter)
	assert.ErrorIs(t, err, ErrOutOfDomain)

	tr := MustNew(Spec{Kind: KindThetaR, RadialBounds: []float64{0, 1, 2}, AzimuthalBins: 4})
	_, err = tr.ApplySymmetry(Coord{I: 1, J: 2}, SymmetryThird)
	assert.ErrorIs(t, err, ErrOutOfDomain)
}

func TestValidateRespectsSymmetryDomain(t *testing.T) {
	g := MustNew(Spec{Kind: KindHex, Pitch: 1, Rings: 4, Symmetry: SymmetryThird})

	inside, err := g.RingPositionToCoord(3, 4)
	require.NoError(t, err)
	assert.NoError(t, g.Validate(inside))

	outside, err := g.RingPositionToCoord(3, 5)
	require.NoError(t, err)
	assert.ErrorIs(t, g.Validate(outside), ErrOutOfDomain)

	assert.ErrorIs(t, g.Validate(Coord{I: 9}), ErrInvalidPosition)

	var count int
	for c := range g.Coords() {
		require.NoError(t, g.Validate(c))
		count++
	}
	assert.Equal(t, 1+2+4+6, count)
}

func TestNewRejectsBadSpecs(t *testing.T) {
	cases := []Spec{
		{Kind: "triangle", Pitch: 1},
		{Kind: KindHex},
		{Kind: KindHex, Pitch: 1, Symmetry: SymmetryEighth},
		{Kind: KindCartesian, Pitch: 1, Symmetry: SymmetryThird},
		{Kind: KindThetaR, RadialBounds: []float64{1, 2}, AzimuthalBins: 4},
		{Kind: KindThetaR, RadialBounds: []float64{0, 2, 1}, AzimuthalBins: 4},
		{Kind: KindThetaR, RadialBounds: []float64{0, 1}},
		{Kind: KindAxial},
		{Kind: KindHex, Pitch: 1, Rings: -1},
	}
	for _, spec := range cases {
		_, err := New(spec)
		assert.ErrorIs(t, err, ErrInvalidSpec, "%+v", spec)
	}
}

func TestParseSymmetryAliases(t *testing.T) {
	for in, want := range map[string]Symmetry{
		"":        SymmetryFull,
		"1/3":     SymmetryThird,
		"Quarter": SymmetryQuarter,
		" 1/8 ":   SymmetryEighth,
	} {
		got, err := ParseSymmetry(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestThetaRCentreIsRingOne(t *testing.T) {
	g := MustNew(Spec{Kind: KindThetaR, RadialBounds: []float64{0, 1, 3}, AzimuthalBins: 6})
	assert.Equal(t, 1, g.PositionsInRing(1))
	assert.Equal(t, 6, g.PositionsInRing(2))

	c, err := g.Locate(Point{X: 0.2, Y: -0.3})
	require.NoError(t, err)
	assert.Equal(t, Coord{}, c)

	_, err = g.Locate(Point{X: 10})
	assert.ErrorIs(t, err, ErrInvalidPosition)
}
