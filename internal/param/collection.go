package param

import (
	"fmt"
	"maps"
	"slices"
	"sort"
)

// Collection is the parameter state of a single composite node. It is not
// safe for concurrent mutation; callers serialize writers.
type Collection struct {
	reg    *Registry
	values map[string]Value
	raw    map[string]Raw
	// derived names the values computed from children rather than set.
	derived map[string]bool
}

func NewCollection(reg *Registry) *Collection {
	return &Collection{reg: reg, values: make(map[string]Value)}
}

func (c *Collection) Registry() *Registry { return c.reg }

// Get returns the current value of name, or the zero value of its type when
// it has never been set. Unregistered names yield the invalid Value.
func (c *Collection) Get(name string) Value {
	if v, ok := c.values[name]; ok {
		return v
	}
	def, ok := c.reg.Lookup(name)
	if !ok {
		return Value{}
	}
	return Zero(def.Type)
}

func (c *Collection) Float(name string) float64    { return c.Get(name).AsFloat() }
func (c *Collection) Int(name string) int64        { return c.Get(name).AsInt() }
func (c *Collection) Bool(name string) bool        { return c.Get(name).AsBool() }
func (c *Collection) String(name string) string    { return c.Get(name).AsString() }
func (c *Collection) Floats(name string) []float64 { return c.Get(name).AsFloats() }

func (c *Collection) IsSet(name string) bool {
	_, ok := c.values[name]
	return ok
}

func (c *Collection) Unset(name string) {
	delete(c.values, name)
	delete(c.derived, name)
}

// IsDerived reports whether name holds a value aggregated from children.
func (c *Collection) IsDerived(name string) bool {
	return c.derived[name] && c.IsSet(name)
}

// SetDerived is Set for a value aggregated from children.
func (c *Collection) SetDerived(name string, v Value) error {
	if err := c.Set(name, v); err != nil {
		return err
	}
	c.markDerived(name)
	return nil
}

func (c *Collection) markDerived(name string) {
	if c.derived == nil {
		c.derived = make(map[string]bool)
	}
	c.derived[name] = true
}

// Set assigns v to name. The value's type must match the registered type.
// A typed value replaces any opaque value kept under the same name.
func (c *Collection) Set(name string, v Value) error {
	def, ok := c.reg.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	if v.Type() != def.Type {
		return fmt.Errorf("%w: %s is %s, got %s", ErrTypeMismatch, name, def.Type, v.Type())
	}
	if v.typ == TypeFloats {
		v = Floats(v.fs)
	}
	c.values[name] = v
	delete(c.raw, name)
	delete(c.derived, name)
	return nil
}

// Names returns the names of every set parameter, sorted.
func (c *Collection) Names() []string {
	names := slices.Collect(maps.Keys(c.values))
	sort.Strings(names)
	return names
}

// SetRaw keeps an opaque value for a parameter the registry does not know,
// or whose stored type no longer matches. It replaces any typed value kept
// under the same name.
func (c *Collection) SetRaw(name string, r Raw) {
	if c.raw == nil {
		c.raw = make(map[string]Raw)
	}
	c.raw[name] = r.clone()
	delete(c.values, name)
	delete(c.derived, name)
}

func (c *Collection) Raw(name string) (Raw, bool) {
	r, ok := c.raw[name]
	if !ok {
		return Raw{}, false
	}
	return r.clone(), true
}

func (c *Collection) RawNames() []string {
	names := slices.Collect(maps.Keys(c.raw))
	sort.Strings(names)
	return names
}

// Clone returns a deep copy bound to the same registry.
func (c *Collection) Clone() *Collection {
	out := NewCollection(c.reg)
	for name, v := range c.values {
		if v.typ == TypeFloats {
			v = Floats(v.fs)
		}
		out.values[name] = v
	}
	for name, r := range c.raw {
		out.SetRaw(name, r)
	}
	for name := range c.derived {
		if c.IsSet(name) {
			out.markDerived(name)
		}
	}
	return out
}

// Equal compares set values and opaque values. Whether a value was derived
// is not compared.
func (c *Collection) Equal(o *Collection) bool {
	if len(c.values) != len(o.values) || len(c.raw) != len(o.raw) {
		return false
	}
	for name, v := range c.values {
		ov, ok := o.values[name]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	for name, r := range c.raw {
		other, ok := o.raw[name]
		if !ok || r.Type != other.Type || string(r.Data) != string(other.Data) {
			return false
		}
	}
	return true
}

// PersistedEqual is Equal restricted to parameters registered with Persist
// and to opaque values, which are always written back.
func (c *Collection) PersistedEqual(o *Collection) bool {
	return c.Persisted().Equal(o.Persisted())
}

// Persisted returns a copy holding only the values a snapshot keeps.
func (c *Collection) Persisted() *Collection {
	out := c.Clone()
	for name := range out.values {
		if def, ok := c.reg.Lookup(name); !ok || !def.Persist {
			delete(out.values, name)
		}
	}
	return out
}
