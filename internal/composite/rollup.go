package composite

import (
	"errors"
	"fmt"

	"reactorstate/internal/param"
)

// RollUp recomputes name bottom-up on every node of n's subtree whose
// children hold a value for it, using the parameter's rule. A value flows up
// from the deepest nodes that set it: subtrees without any value are
// skipped, and a node whose children hold none keeps the value set on it.
// A value an earlier roll-up derived is recomputed over no children
// instead, so a core emptied by discharge sums to zero and an emptied max
// or mean is unset. Nothing is written unless every aggregation succeeds.
func (n *Node) RollUp(name string) error {
	def, ok := n.tree.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", param.ErrUnknownParameter, name)
	}
	if def.Rule == param.RuleNone {
		return nil
	}

	scratch := make(map[NodeID]param.Value)
	emptied := make(map[NodeID]bool)
	var visit func(*Node) (param.Value, bool, error)
	visit = func(cur *Node) (param.Value, bool, error) {
		var values []param.Value
		for _, id := range cur.children {
			v, ok, err := visit(n.tree.nodes[id])
			if err != nil {
				return param.Value{}, false, err
			}
			if ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			if !cur.params.IsSet(name) {
				return param.Value{}, false, nil
			}
			if !cur.params.IsDerived(name) {
				return cur.params.Get(name), true, nil
			}
			v, _, err := param.AggregateValues(def, nil)
			switch {
			case errors.Is(err, param.ErrEmptyAggregation):
				emptied[cur.id] = true
			case err != nil:
				return param.Value{}, false, fmt.Errorf("roll up %s on %s: %w", name, cur, err)
			default:
				scratch[cur.id] = v
			}
			return param.Value{}, false, nil
		}
		v, _, err := param.AggregateValues(def, values)
		if err != nil {
			return param.Value{}, false, fmt.Errorf("roll up %s on %s: %w", name, cur, err)
		}
		scratch[cur.id] = v
		return v, true, nil
	}
	if _, _, err := visit(n); err != nil {
		return err
	}

	for id, v := range scratch {
		if err := n.tree.nodes[id].params.SetDerived(name, v); err != nil {
			return err
		}
	}
	for id := range emptied {
		n.tree.nodes[id].params.Unset(name)
	}
	return nil
}

// RollUpAll rolls every registered parameter that has a rule up to the root.
func (t *Tree) RollUpAll() error {
	for _, def := range t.registry.Definitions() {
		if def.Rule == param.RuleNone {
			continue
		}
		if err := t.Root().RollUp(def.Name); err != nil {
			return err
		}
	}
	return nil
}
