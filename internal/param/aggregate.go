package param

import (
	"fmt"
	"math"
)

// Aggregate applies def.Rule across the children's current values of
// def.Name. It reports false for RuleNone, meaning the parent is left alone.
func Aggregate(def Definition, children []*Collection) (Value, bool, error) {
	values := make([]Value, len(children))
	for i, child := range children {
		values[i] = child.Get(def.Name)
	}
	return AggregateValues(def, values)
}

// AggregateValues is Aggregate over plain values. A sum over zero values is
// the zero value; max and mean over zero values fall back to def.Default or
// fail with ErrEmptyAggregation.
func AggregateValues(def Definition, values []Value) (Value, bool, error) {
	if def.Rule == RuleNone {
		return Value{}, false, nil
	}
	for _, v := range values {
		if v.typ != def.Type {
			return Value{}, false, fmt.Errorf("%w: %s is %s, got %s", ErrTypeMismatch, def.Name, def.Type, v.typ)
		}
	}
	if len(values) == 0 {
		switch {
		case def.Rule == RuleSum:
			return Zero(def.Type), true, nil
		case def.Default != nil:
			d := *def.Default
			if d.typ == TypeFloats {
				d = Floats(d.fs)
			}
			return d, true, nil
		default:
			return Value{}, false, fmt.Errorf("%w: %s of %s", ErrEmptyAggregation, def.Rule, def.Name)
		}
	}

	switch def.Type {
	case TypeFloat:
		return Float(reduceFloats(def.Rule, values, func(v Value) float64 { return v.f })), true, nil
	case TypeInt:
		return Int(reduceInts(def.Rule, values)), true, nil
	case TypeFloats:
		out, err := reduceArrays(def, values)
		if err != nil {
			return Value{}, false, err
		}
		return Floats(out), true, nil
	default:
		return Value{}, false, fmt.Errorf("%w: %s rule on %s parameter %s", ErrIncompatibleRule, def.Rule, def.Type, def.Name)
	}
}

// AggregateFrom computes name over children and stores the result on c as
// a derived value.
func (c *Collection) AggregateFrom(children []*Collection, name string) error {
	def, ok := c.reg.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	v, ok, err := Aggregate(def, children)
	if err != nil || !ok {
		return err
	}
	c.values[name] = v
	delete(c.raw, name)
	c.markDerived(name)
	return nil
}

func reduceFloats(rule Rule, values []Value, get func(Value) float64) float64 {
	switch rule {
	case RuleMax:
		out := math.Inf(-1)
		for _, v := range values {
			out = math.Max(out, get(v))
		}
		return out
	case RuleMean:
		var sum float64
		for _, v := range values {
			sum += get(v)
		}
		return sum / float64(len(values))
	default:
		var sum float64
		for _, v := range values {
			sum += get(v)
		}
		return sum
	}
}

func reduceInts(rule Rule, values []Value) int64 {
	if rule == RuleMax {
		out := values[0].i
		for _, v := range values[1:] {
			out = max(out, v.i)
		}
		return out
	}
	var sum int64
	for _, v := range values {
		sum += v.i
	}
	return sum
}

// reduceArrays works element-wise. Unset (empty) arrays count as zeros; all
// non-empty arrays must share one length.
func reduceArrays(def Definition, values []Value) ([]float64, error) {
	n := 0
	for _, v := range values {
		if len(v.fs) == 0 {
			continue
		}
		if n == 0 {
			n = len(v.fs)
			continue
		}
		if len(v.fs) != n {
			return nil, fmt.Errorf("%w: %s arrays of length %d and %d", ErrTypeMismatch, def.Name, n, len(v.fs))
		}
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = reduceFloats(def.Rule, values, func(v Value) float64 {
			if len(v.fs) == 0 {
				return 0
			}
			return v.fs[i]
		})
	}
	return out, nil
}
