package param

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	meanDefault := Float(300)
	require.NoError(t, reg.RegisterAll(
		Definition{Name: "power", Type: TypeFloat, Rule: RuleSum, Persist: true, Units: "W"},
		Definition{Name: "flux", Type: TypeFloat, Rule: RuleMax, Persist: true},
		Definition{Name: "temperature", Type: TypeFloat, Rule: RuleMean, Persist: true, Default: &meanDefault},
		Definition{Name: "burnup", Type: TypeFloat, Rule: RuleMean},
		Definition{Name: "pins", Type: TypeInt, Rule: RuleSum},
		Definition{Name: "peakPins", Type: TypeInt, Rule: RuleMax},
		Definition{Name: "label", Type: TypeString},
		Definition{Name: "fresh", Type: TypeBool},
		Definition{Name: "mgFlux", Type: TypeFloats, Rule: RuleSum},
	))
	return reg
}

func TestRegisterIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	def := Definition{Name: "power", Type: TypeFloat, Rule: RuleSum, Persist: true}
	require.NoError(t, reg.Register(def))
	require.NoError(t, reg.Register(def))
	assert.Equal(t, 1, reg.Len())
}

func TestRegisterConflicts(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{Name: "power", Type: TypeFloat, Rule: RuleSum}))

	err := reg.Register(Definition{Name: "power", Type: TypeInt, Rule: RuleSum})
	assert.ErrorIs(t, err, ErrDuplicateParameter)

	err = reg.Register(Definition{Name: "power", Type: TypeFloat, Rule: RuleMax})
	assert.ErrorIs(t, err, ErrDuplicateParameter)

	def, ok := reg.Lookup("power")
	require.True(t, ok)
	assert.Equal(t, TypeFloat, def.Type)
	assert.Equal(t, RuleSum, def.Rule)
}

func TestRegisterValidation(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register(Definition{Type: TypeFloat}))
	assert.Error(t, reg.Register(Definition{Name: "x"}))
	assert.ErrorIs(t, reg.Register(Definition{Name: "label", Type: TypeString, Rule: RuleSum}), ErrIncompatibleRule)
	assert.ErrorIs(t, reg.Register(Definition{Name: "count", Type: TypeInt, Rule: RuleMean}), ErrIncompatibleRule)
	bad := Int(3)
	assert.ErrorIs(t, reg.Register(Definition{Name: "t", Type: TypeFloat, Rule: RuleMax, Default: &bad}), ErrTypeMismatch)
}

func TestGetAndSet(t *testing.T) {
	c := NewCollection(testRegistry(t))

	assert.Equal(t, 0.0, c.Float("power"))
	assert.False(t, c.IsSet("power"))
	assert.Equal(t, TypeFloat, c.Get("power").Type())
	assert.False(t, c.Get("nope").Valid())

	require.NoError(t, c.Set("power", Float(12.5)))
	assert.Equal(t, 12.5, c.Float("power"))
	assert.True(t, c.IsSet("power"))

	assert.ErrorIs(t, c.Set("power", Int(3)), ErrTypeMismatch)
	assert.Equal(t, 12.5, c.Float("power"))
	assert.ErrorIs(t, c.Set("nope", Float(1)), ErrUnknownParameter)

	input := []float64{1, 2}
	require.NoError(t, c.Set("mgFlux", Floats(input)))
	input[0] = 99
	assert.Equal(t, []float64{1, 2}, c.Floats("mgFlux"))

	assert.Equal(t, []string{"mgFlux", "power"}, c.Names())
	c.Unset("power")
	assert.False(t, c.IsSet("power"))
}

func children(t *testing.T, reg *Registry, name string, values ...Value) []*Collection {
	t.Helper()
	out := make([]*Collection, 0, len(values))
	for _, v := range values {
		c := NewCollection(reg)
		require.NoError(t, c.Set(name, v))
		out = append(out, c)
	}
	return out
}

func TestAggregateFrom(t *testing.T) {
	reg := testRegistry(t)

	cases := []struct {
		name   string
		param  string
		values []Value
		want   Value
	}{
		{"sum floats", "power", []Value{Float(10), Float(20), Float(30)}, Float(60)},
		{"max floats", "flux", []Value{Float(3), Float(9), Float(1)}, Float(9)},
		{"mean floats", "temperature", []Value{Float(300), Float(500)}, Float(400)},
		{"sum ints", "pins", []Value{Int(169), Int(169)}, Int(338)},
		{"max ints", "peakPins", []Value{Int(-4), Int(-2)}, Int(-2)},
		{"sum arrays", "mgFlux", []Value{Floats([]float64{1, 2}), Floats([]float64{3, 4})}, Floats([]float64{4, 6})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			parent := NewCollection(reg)
			require.NoError(t, parent.AggregateFrom(children(t, reg, tc.param, tc.values...), tc.param))
			assert.True(t, tc.want.Equal(parent.Get(tc.param)), "got %s want %s", parent.Get(tc.param), tc.want)
		})
	}
}

func TestAggregateZeroChildren(t *testing.T) {
	reg := testRegistry(t)
	parent := NewCollection(reg)

	require.NoError(t, parent.AggregateFrom(nil, "power"))
	assert.True(t, parent.IsSet("power"))
	assert.Equal(t, 0.0, parent.Float("power"))

	assert.ErrorIs(t, parent.AggregateFrom(nil, "flux"), ErrEmptyAggregation)
	assert.ErrorIs(t, parent.AggregateFrom(nil, "burnup"), ErrEmptyAggregation)
	assert.False(t, parent.IsSet("burnup"))

	require.NoError(t, parent.AggregateFrom(nil, "temperature"))
	assert.Equal(t, 300.0, parent.Float("temperature"))
}

func TestAggregateNoneRuleSkips(t *testing.T) {
	reg := testRegistry(t)
	parent := NewCollection(reg)
	require.NoError(t, parent.Set("label", String("keep")))
	require.NoError(t, parent.AggregateFrom(children(t, reg, "label", String("a")), "label"))
	assert.Equal(t, "keep", parent.String("label"))
}

func TestAggregateArrayShapeMismatch(t *testing.T) {
	reg := testRegistry(t)
	parent := NewCollection(reg)
	kids := children(t, reg, "mgFlux", Floats([]float64{1, 2}), Floats([]float64{1, 2, 3}))
	assert.ErrorIs(t, parent.AggregateFrom(kids, "mgFlux"), ErrTypeMismatch)
	assert.False(t, parent.IsSet("mgFlux"))
}

func TestRawValuesSurviveClone(t *testing.T) {
	c := NewCollection(testRegistry(t))
	c.SetRaw("legacyXS", Raw{Type: "floats", Data: json.RawMessage(`[1,2,3]`)})

	clone := c.Clone()
	r, ok := clone.Raw("legacyXS")
	require.True(t, ok)
	assert.Equal(t, `[1,2,3]`, string(r.Data))
	assert.True(t, c.Equal(clone))
	assert.Equal(t, []string{"legacyXS"}, clone.RawNames())
}

func TestTypedAndRawValuesReplaceEachOther(t *testing.T) {
	c := NewCollection(testRegistry(t))
	require.NoError(t, c.Set("power", Float(12)))

	c.SetRaw("power", Raw{Type: "int", Data: json.RawMessage(`12`)})
	assert.False(t, c.IsSet("power"))
	assert.Empty(t, c.Names())
	assert.Equal(t, []string{"power"}, c.RawNames())

	require.NoError(t, c.Set("power", Float(13)))
	_, ok := c.Raw("power")
	assert.False(t, ok)
	assert.Equal(t, []string{"power"}, c.Names())
	assert.Equal(t, 13.0, c.Float("power"))
}

func TestDerivedValues(t *testing.T) {
	reg := testRegistry(t)
	c := NewCollection(reg)
	require.NoError(t, c.AggregateFrom(children(t, reg, "power", Float(1), Float(2)), "power"))
	assert.True(t, c.IsDerived("power"))
	assert.True(t, c.Clone().IsDerived("power"))

	require.NoError(t, c.Set("power", Float(4)))
	assert.False(t, c.IsDerived("power"))

	require.NoError(t, c.SetDerived("power", Float(5)))
	assert.True(t, c.IsDerived("power"))
	c.Unset("power")
	assert.False(t, c.IsDerived("power"))

	assert.ErrorIs(t, c.SetDerived("power", Int(1)), ErrTypeMismatch)
	assert.False(t, c.IsDerived("power"))
}

func TestDecodeValue(t *testing.T) {
	v, err := Decode(TypeFloats, []byte(`[0.5,1.5]`))
	require.NoError(t, err)
	assert.True(t, Floats([]float64{0.5, 1.5}).Equal(v))

	_, err = Decode(TypeInt, []byte(`"x"`))
	assert.Error(t, err)
}

func TestParseTypeAndRule(t *testing.T) {
	typ, err := ParseType("Float")
	require.NoError(t, err)
	assert.Equal(t, TypeFloat, typ)

	rule, err := ParseRule("")
	require.NoError(t, err)
	assert.Equal(t, RuleNone, rule)

	_, err = ParseRule("median")
	assert.Error(t, err)
}
