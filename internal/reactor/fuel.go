package reactor

import (
	"errors"
	"fmt"
	"iter"

	"reactorstate/internal/composite"
	"reactorstate/internal/param"
)

var (
	ErrNoCore        = errors.New("reactor has no core")
	ErrNotAssembly   = errors.New("node is not an assembly")
	ErrEmptySlot     = errors.New("no assembly at position")
	ErrNotDischarged = errors.New("assembly is not in the retained history")
)

// Core returns the first core below the reactor root.
func Core(tree *composite.Tree) (*composite.Node, error) {
	for n := range tree.Root().Descendants(composite.KindCore) {
		return n, nil
	}
	return nil, ErrNoCore
}

// Assemblies yields the assemblies in the model, in core order.
func Assemblies(tree *composite.Tree) iter.Seq[*composite.Node] {
	return tree.Root().Descendants(composite.KindAssembly)
}

// Blocks yields the blocks below n, bottom to top within each assembly.
func Blocks(n *composite.Node) iter.Seq[*composite.Node] {
	return n.Descendants(composite.KindBlock)
}

// AssemblyAt returns the assembly at ring and position of core's lattice.
func AssemblyAt(core *composite.Node, ring, pos int) (*composite.Node, error) {
	c, err := core.Grid().RingPositionToCoord(ring, pos)
	if err != nil {
		return nil, err
	}
	n, ok := core.ChildAt(c)
	if !ok {
		return nil, fmt.Errorf("%w: ring %d position %d", ErrEmptySlot, ring, pos)
	}
	return n, nil
}

// SwapAssemblies exchanges the positions of two assemblies.
func SwapAssemblies(tree *composite.Tree, a, b *composite.Node) error {
	for _, n := range []*composite.Node{a, b} {
		if n == nil || n.Kind() != composite.KindAssembly {
			return fmt.Errorf("%w: %v", ErrNotAssembly, n)
		}
	}
	return tree.Swap(a, b)
}

// ShuffleRing rotates the assemblies of one lattice ring by one occupied
// position: each assembly moves to the next occupied position in ring order
// and the last wraps to the first. It reports how many assemblies moved.
func ShuffleRing(core *composite.Node, ring int) (int, error) {
	g := core.Grid()
	if g == nil {
		return 0, fmt.Errorf("%s has no grid", core)
	}
	var members []*composite.Node
	for pos := 1; pos <= g.PositionsInRing(ring); pos++ {
		c, err := g.RingPositionToCoord(ring, pos)
		if err != nil {
			return 0, err
		}
		if n, ok := core.ChildAt(c); ok && n.Kind() == composite.KindAssembly {
			members = append(members, n)
		}
	}
	if len(members) < 2 {
		return 0, nil
	}
	// Cascade sends members[0] to the last location, so feed it in reverse
	// to move every assembly forward.
	order := make([]*composite.Node, len(members))
	for i, n := range members {
		order[len(members)-1-i] = n
	}
	if err := core.Tree().Cascade(order...); err != nil {
		return 0, err
	}
	return len(members), nil
}

// Discharge removes an assembly from the core into the retained history and
// stamps the cycle it left in.
func Discharge(a *composite.Node, cycle int) error {
	if a.Kind() != composite.KindAssembly {
		return fmt.Errorf("%w: %s", ErrNotAssembly, a)
	}
	def, ok := a.Params().Registry().Lookup(ParamDischargeCycle)
	if !ok {
		return fmt.Errorf("%w: %s", param.ErrUnknownParameter, ParamDischargeCycle)
	}
	if def.Type != param.TypeInt {
		return fmt.Errorf("%w: %s is %s", param.ErrTypeMismatch, ParamDischargeCycle, def.Type)
	}
	if err := a.Detach(); err != nil {
		return err
	}
	return a.Params().Set(ParamDischargeCycle, param.Int(int64(cycle)))
}

// Reinsert moves a discharged assembly back into core at ring and position.
func Reinsert(core *composite.Node, name string, ring, pos int) (*composite.Node, error) {
	var a *composite.Node
	for _, n := range core.Tree().Retained() {
		if n.Name() == name && n.Kind() == composite.KindAssembly {
			a = n
			break
		}
	}
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotDischarged, name)
	}
	c, err := core.Grid().RingPositionToCoord(ring, pos)
	if err != nil {
		return nil, err
	}
	if err := core.AddChildAt(a, c); err != nil {
		return nil, err
	}
	return a, nil
}

// TotalPower rolls power up from the leaves and returns the reactor total.
func TotalPower(tree *composite.Tree) (float64, error) {
	if err := tree.Root().RollUp(ParamPower); err != nil {
		return 0, err
	}
	return tree.Root().Params().Float(ParamPower), nil
}
