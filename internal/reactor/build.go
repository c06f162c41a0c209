package reactor

import (
	"fmt"
	"maps"
	"slices"

	"reactorstate/internal/composite"
	"reactorstate/internal/config"
	"reactorstate/internal/grid"
	"reactorstate/internal/param"
)

// Build constructs reactor, core, assemblies, blocks and components from
// bp. Each assembly gets an axial grid whose segments are its blocks'
// heights, bottom first.
func Build(bp *config.Blueprint, reg *param.Registry) (*composite.Tree, error) {
	coreGrid, err := grid.New(bp.Core.Grid)
	if err != nil {
		return nil, fmt.Errorf("core %s: %w", bp.Core.Name, err)
	}
	tree := composite.NewTree(reg, bp.Name, composite.KindReactor)
	core := tree.NewNode(bp.Core.Name, composite.KindCore, composite.WithGrid(coreGrid))
	if err := tree.Root().AddChild(core); err != nil {
		return nil, err
	}

	for _, ab := range bp.Assemblies {
		if err := buildAssembly(tree, core, ab); err != nil {
			return nil, fmt.Errorf("assembly %s: %w", ab.Name, err)
		}
	}
	return tree, nil
}

func buildAssembly(tree *composite.Tree, core *composite.Node, ab config.AssemblyBlueprint) error {
	bounds := make([]float64, 1, len(ab.Blocks)+1)
	for _, bb := range ab.Blocks {
		bounds = append(bounds, bounds[len(bounds)-1]+bb.Height)
	}
	stack, err := grid.New(grid.Spec{Kind: grid.KindAxial, AxialBounds: bounds})
	if err != nil {
		return err
	}
	coord, err := core.Grid().RingPositionToCoord(ab.Ring, ab.Position)
	if err != nil {
		return err
	}

	a := tree.NewNode(ab.Name, composite.KindAssembly, composite.WithGrid(stack))
	if err := setParams(a, ab.Params); err != nil {
		return err
	}
	for _, bb := range ab.Blocks {
		b := tree.NewNode(bb.Name, composite.KindBlock, composite.WithPayload(composite.Payload{Material: bb.Material}))
		if err := setParams(b, bb.Params); err != nil {
			return err
		}
		if err := a.AddChild(b); err != nil {
			return err
		}
		for _, cb := range bb.Components {
			c := tree.NewNode(cb.Name, composite.KindComponent, composite.WithPayload(composite.Payload{
				Shape:      cb.Shape,
				Material:   cb.Material,
				Dimensions: cb.Dimensions,
			}))
			if err := setParams(c, cb.Params); err != nil {
				return err
			}
			if err := b.AddChild(c); err != nil {
				return err
			}
		}
	}
	return core.AddChildAt(a, coord)
}

// setParams applies blueprint values in name order so failures are
// reported deterministically.
func setParams(n *composite.Node, values map[string]float64) error {
	for _, name := range slices.Sorted(maps.Keys(values)) {
		def, ok := n.Params().Registry().Lookup(name)
		if !ok {
			return fmt.Errorf("%s: %w: %s", n.Name(), param.ErrUnknownParameter, name)
		}
		var v param.Value
		switch def.Type {
		case param.TypeFloat:
			v = param.Float(values[name])
		case param.TypeInt:
			v = param.Int(int64(values[name]))
		default:
			return fmt.Errorf("%s: %w: %s is %s", n.Name(), param.ErrTypeMismatch, name, def.Type)
		}
		if err := n.Params().Set(name, v); err != nil {
			return err
		}
	}
	return nil
}
