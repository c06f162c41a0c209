package composite

import (
	"fmt"
	"slices"

	"reactorstate/internal/grid"
)

// AddChild attaches child in the first free slot of n's grid, in ring order.
// Children of a node without a grid are attached unplaced. A child taken
// from the retained history leaves it.
func (n *Node) AddChild(child *Node) error {
	if err := n.checkAdoptable(child); err != nil {
		return err
	}
	loc := Locator{}
	if n.grid != nil {
		found := false
		for c := range n.grid.Coords() {
			if _, taken := n.occupied[c]; taken {
				continue
			}
			var err error
			if loc, err = n.slot(c, NoNode); err != nil {
				return err
			}
			found = true
			break
		}
		if !found {
			return fmt.Errorf("%w: %s has %d children", ErrGridFull, n, len(n.children))
		}
	}
	n.tree.removeRetained(child.id)
	n.attach(child, loc)
	return nil
}

// AddChildAt attaches child at coordinate c of n's grid.
func (n *Node) AddChildAt(child *Node, c grid.Coord) error {
	if err := n.checkAdoptable(child); err != nil {
		return err
	}
	loc, err := n.slot(c, NoNode)
	if err != nil {
		return err
	}
	n.tree.removeRetained(child.id)
	n.attach(child, loc)
	return nil
}

// Relocate moves n, with its subtree, to coordinate c of target. Moving
// within the same parent keeps n's position among its siblings.
func (n *Node) Relocate(target *Node, c grid.Coord) error {
	if err := n.tree.owns(target); err != nil {
		return err
	}
	if err := n.checkMovable(); err != nil {
		return err
	}
	if target.isWithin(n) {
		return fmt.Errorf("%w: %s cannot move below itself", ErrInvalidHierarchy, n)
	}
	if !target.kind.canContain(n.kind) {
		return fmt.Errorf("%w: %s cannot contain %s", ErrInvalidHierarchy, target.kind, n.kind)
	}
	loc, err := target.slot(c, n.id)
	if err != nil {
		return err
	}

	old := n.Parent()
	if old != target {
		old.release(n)
		target.attach(n, loc)
		return nil
	}
	if n.locator.Placed {
		delete(old.occupied, n.locator.Coord)
	}
	n.locator = loc
	old.occupied[c] = n.id
	return nil
}

// Detach removes n and its subtree from the model and appends it to the
// tree's retained history. Nothing below n is changed.
func (n *Node) Detach() error {
	if err := n.checkMovable(); err != nil {
		return err
	}
	n.Parent().release(n)
	n.tree.retained = append(n.tree.retained, n.id)
	return nil
}

// Swap exchanges the locations of a and b, including their parents.
func (t *Tree) Swap(a, b *Node) error {
	if err := t.owns(a); err != nil {
		return err
	}
	if a == b {
		return nil
	}
	return t.Cascade(a, b)
}

// Cascade rotates the locations of nodes: nodes[0] takes the location of the
// last node and every other node takes the location of the one before it.
// The locations are only ever those of the listed nodes, so the rotation
// either happens as a whole or not at all.
func (t *Tree) Cascade(nodes ...*Node) error {
	if len(nodes) < 2 {
		for _, n := range nodes {
			if err := t.owns(n); err != nil {
				return err
			}
		}
		return nil
	}

	seen := make(map[NodeID]bool, len(nodes))
	for _, n := range nodes {
		if err := t.owns(n); err != nil {
			return err
		}
		if err := n.checkMovable(); err != nil {
			return err
		}
		if seen[n.id] {
			return fmt.Errorf("%w: %s listed twice", ErrDuplicateNode, n)
		}
		seen[n.id] = true
	}
	for i, a := range nodes {
		for j, b := range nodes {
			if i != j && a.isWithin(b) {
				return fmt.Errorf("%w: %s lies within %s", ErrInvalidHierarchy, a, b)
			}
		}
	}

	type location struct {
		parent *Node
		index  int
		loc    Locator
	}
	locs := make([]location, len(nodes))
	for i, n := range nodes {
		p := n.Parent()
		locs[i] = location{parent: p, index: p.indexOf(n.id), loc: n.locator}
	}
	last := len(nodes) - 1
	dest := func(i int) location { return locs[(i+last)%len(nodes)] }
	for i, n := range nodes {
		if d := dest(i); !d.parent.kind.canContain(n.kind) {
			return fmt.Errorf("%w: %s cannot contain %s", ErrInvalidHierarchy, d.parent.kind, n.kind)
		}
	}

	for i, n := range nodes {
		d := dest(i)
		d.parent.children[d.index] = n.id
		if d.loc.Placed {
			d.parent.occupied[d.loc.Coord] = n.id
		}
		n.parent = d.parent.id
		n.locator = d.loc
	}
	return nil
}

func (n *Node) checkAdoptable(child *Node) error {
	if err := n.tree.owns(child); err != nil {
		return err
	}
	if child.IsRoot() {
		return fmt.Errorf("%w: %s", ErrRootNode, child)
	}
	if child.parent != NoNode {
		return fmt.Errorf("%w: %s is a child of %s", ErrAttached, child, child.Parent())
	}
	if n.isWithin(child) {
		return fmt.Errorf("%w: %s cannot contain its ancestor %s", ErrInvalidHierarchy, n, child)
	}
	if !n.kind.canContain(child.kind) {
		return fmt.Errorf("%w: %s cannot contain %s", ErrInvalidHierarchy, n.kind, child.kind)
	}
	return nil
}

func (n *Node) checkMovable() error {
	if n.IsRoot() {
		return fmt.Errorf("%w: %s", ErrRootNode, n)
	}
	if n.parent == NoNode {
		return fmt.Errorf("%w: %s", ErrNotAttached, n)
	}
	return nil
}

// slot validates coordinate c of n's grid. self may already occupy it.
func (n *Node) slot(c grid.Coord, self NodeID) (Locator, error) {
	if n.grid == nil {
		return Locator{}, fmt.Errorf("%w: %s has no grid", grid.ErrInvalidPosition, n)
	}
	if err := n.grid.Validate(c); err != nil {
		return Locator{}, fmt.Errorf("%s: %w", n, err)
	}
	if id, ok := n.occupied[c]; ok && id != self {
		return Locator{}, fmt.Errorf("%w: %s of %s holds %s", ErrLocatorCollision, c, n, n.tree.nodes[id])
	}
	off, err := n.grid.Offset(c)
	if err != nil {
		return Locator{}, fmt.Errorf("%s: %w", n, err)
	}
	return Locator{Coord: c, Offset: off, Placed: true}, nil
}

func (n *Node) attach(child *Node, loc Locator) {
	child.parent = n.id
	child.locator = loc
	n.children = append(n.children, child.id)
	if loc.Placed {
		if n.occupied == nil {
			n.occupied = make(map[grid.Coord]NodeID)
		}
		n.occupied[loc.Coord] = child.id
	}
}

func (n *Node) release(child *Node) {
	if i := n.indexOf(child.id); i >= 0 {
		n.children = slices.Delete(n.children, i, i+1)
	}
	if child.locator.Placed && n.occupied[child.locator.Coord] == child.id {
		delete(n.occupied, child.locator.Coord)
	}
	child.parent = NoNode
	child.locator = Locator{}
}
