// Package param holds the typed, named state attached to every composite
// node. The set of legal names is fixed by a Registry that the framework and
// the physics collaborators populate while the model is being constructed.
package param

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrDuplicateParameter = errors.New("parameter already registered with a different definition")
	ErrUnknownParameter   = errors.New("parameter not registered")
	ErrTypeMismatch       = errors.New("parameter type mismatch")
	ErrEmptyAggregation   = errors.New("aggregation over zero values")
	ErrIncompatibleRule   = errors.New("aggregation rule incompatible with parameter type")
)

// Rule is how a parent's value is derived from its children's values.
// RuleNone is the zero value: a parameter that does not declare a rule is
// never rolled up.
type Rule uint8

const (
	RuleNone Rule = iota
	RuleSum
	RuleMax
	RuleMean
)

var ruleNames = map[Rule]string{
	RuleNone: "none",
	RuleSum:  "sum",
	RuleMax:  "max",
	RuleMean: "mean",
}

func (r Rule) String() string {
	if s, ok := ruleNames[r]; ok {
		return s
	}
	return fmt.Sprintf("rule(%d)", uint8(r))
}

func ParseRule(s string) (Rule, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" || name == "skip" {
		return RuleNone, nil
	}
	for r, n := range ruleNames {
		if n == name {
			return r, nil
		}
	}
	return RuleNone, fmt.Errorf("unknown aggregation rule %q", s)
}

func (r Rule) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Rule) UnmarshalText(b []byte) error {
	parsed, err := ParseRule(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Definition describes one registered parameter. Persist marks parameters
// that are written to snapshots and survive a restart. Default, when set, is
// the result of a max or mean aggregation over zero children.
type Definition struct {
	Name        string
	Type        Type
	Rule        Rule
	Persist     bool
	Default     *Value
	Units       string
	Description string
}

func (d Definition) sameShape(o Definition) bool {
	if d.Type != o.Type || d.Rule != o.Rule || d.Persist != o.Persist {
		return false
	}
	switch {
	case d.Default == nil && o.Default == nil:
		return true
	case d.Default == nil || o.Default == nil:
		return false
	default:
		return d.Default.Equal(*o.Default)
	}
}

// Registry is the per-model table of parameter definitions. Definitions are
// immutable once registered.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds def. Registering an identical definition again is a no-op.
func (r *Registry) Register(def Definition) error {
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return errors.New("parameter name is required")
	}
	if _, ok := typeNames[def.Type]; !ok {
		return fmt.Errorf("parameter %s: invalid type %d", def.Name, def.Type)
	}
	if _, ok := ruleNames[def.Rule]; !ok {
		return fmt.Errorf("parameter %s: invalid rule %d", def.Name, def.Rule)
	}
	if def.Rule != RuleNone && !def.Type.numeric() {
		return fmt.Errorf("%w: %s rule on %s parameter %s", ErrIncompatibleRule, def.Rule, def.Type, def.Name)
	}
	if def.Rule == RuleMean && def.Type == TypeInt {
		return fmt.Errorf("%w: mean of int parameter %s", ErrIncompatibleRule, def.Name)
	}
	if def.Default != nil {
		if def.Default.Type() != def.Type {
			return fmt.Errorf("%w: default for %s is %s, want %s", ErrTypeMismatch, def.Name, def.Default.Type(), def.Type)
		}
		d := *def.Default
		if d.typ == TypeFloats {
			d = Floats(d.fs)
		}
		def.Default = &d
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.defs[def.Name]; ok {
		if existing.sameShape(def) {
			return nil
		}
		return fmt.Errorf("%w: %s (%s/%s vs %s/%s)", ErrDuplicateParameter, def.Name,
			existing.Type, existing.Rule, def.Type, def.Rule)
	}
	r.defs[def.Name] = def
	return nil
}

// RegisterAll registers defs in order and stops at the first failure.
func (r *Registry) RegisterAll(defs ...Definition) error {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[name]
	return def, ok
}

// Definitions returns every definition sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
