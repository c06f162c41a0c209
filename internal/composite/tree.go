package composite

import (
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"

	"reactorstate/internal/grid"
	"reactorstate/internal/param"
)

var (
	ErrLocatorCollision = errors.New("locator already occupied")
	ErrInvalidHierarchy = errors.New("invalid hierarchy")
	ErrNotAttached      = errors.New("node is not attached")
	ErrAttached         = errors.New("node is already attached")
	ErrForeignNode      = errors.New("node belongs to another tree")
	ErrDuplicateNode    = errors.New("duplicate node")
	ErrGridFull         = errors.New("no free grid slot")
	ErrRootNode         = errors.New("operation not allowed on the root node")
)

// Tree owns every node of one reactor model. Nodes are never freed while the
// tree lives: detached subtrees are kept in the retained history.
type Tree struct {
	registry *param.Registry
	lineage  uuid.UUID
	nodes    []*Node
	root     NodeID
	retained []NodeID
}

// NewTree creates a tree with a single root node. Every node in the tree
// shares reg.
func NewTree(reg *param.Registry, name string, kind Kind, opts ...NodeOption) *Tree {
	t := &Tree{registry: reg, lineage: uuid.New()}
	t.root = t.NewNode(name, kind, opts...).id
	return t
}

func (t *Tree) Registry() *param.Registry { return t.registry }

// Lineage identifies the run a tree belongs to. Clones and restored trees
// keep the lineage of their source.
func (t *Tree) Lineage() uuid.UUID { return t.lineage }

func (t *Tree) Root() *Node { return t.nodes[t.root] }

// NewNode allocates a node that belongs to t but is not yet attached.
func (t *Tree) NewNode(name string, kind Kind, opts ...NodeOption) *Node {
	n := &Node{
		tree:   t,
		id:     NodeID(len(t.nodes)),
		name:   name,
		kind:   kind,
		params: param.NewCollection(t.registry),
		parent: NoNode,
	}
	for _, opt := range opts {
		opt(n)
	}
	t.nodes = append(t.nodes, n)
	return n
}

// Node looks a node up by id.
func (t *Tree) Node(id NodeID) (*Node, bool) {
	if id < 0 || int(id) >= len(t.nodes) || t.nodes[id] == nil {
		return nil, false
	}
	return t.nodes[id], true
}

// Len is the number of nodes Nodes yields: the attached tree plus the
// retained history.
func (t *Tree) Len() int {
	n := 0
	for range t.Nodes() {
		n++
	}
	return n
}

// Retained returns the roots of the detached subtrees, oldest first.
func (t *Tree) Retained() []*Node {
	out := make([]*Node, len(t.retained))
	for i, id := range t.retained {
		out[i] = t.nodes[id]
	}
	return out
}

// Nodes yields the attached tree in pre-order followed by each retained
// subtree in pre-order. Nodes that were created but never attached are not
// part of the model and are skipped.
func (t *Tree) Nodes() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for n := range t.Root().Subtree() {
			if !yield(n) {
				return
			}
		}
		for _, id := range t.retained {
			for n := range t.nodes[id].Subtree() {
				if !yield(n) {
					return
				}
			}
		}
	}
}

// Walk calls fn for every node yielded by Nodes and stops at the first error.
func (t *Tree) Walk(fn func(*Node) error) error {
	for n := range t.Nodes() {
		if err := fn(n); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the first node called name, searching the attached tree
// before the retained history.
func (t *Tree) Find(name string) (*Node, bool) {
	for n := range t.Nodes() {
		if n.name == name {
			return n, true
		}
	}
	return nil, false
}

func (t *Tree) owns(n *Node) error {
	if n == nil {
		return fmt.Errorf("%w: nil node", ErrForeignNode)
	}
	if n.tree != t {
		return fmt.Errorf("%w: %s", ErrForeignNode, n)
	}
	return nil
}

func (t *Tree) removeRetained(id NodeID) {
	for i, r := range t.retained {
		if r == id {
			t.retained = append(t.retained[:i], t.retained[i+1:]...)
			return
		}
	}
}

// Clone returns a deep copy of t with the same node ids and lineage.
func (t *Tree) Clone() *Tree {
	out := &Tree{
		registry: t.registry,
		lineage:  t.lineage,
		nodes:    make([]*Node, len(t.nodes)),
		root:     t.root,
		retained: append([]NodeID(nil), t.retained...),
	}
	for i, n := range t.nodes {
		if n == nil {
			continue
		}
		c := *n
		c.tree = out
		c.payload = n.payload.Clone()
		c.params = n.params.Clone()
		c.children = append([]NodeID(nil), n.children...)
		if n.occupied != nil {
			c.occupied = make(map[grid.Coord]NodeID, len(n.occupied))
			for k, v := range n.occupied {
				c.occupied[k] = v
			}
		}
		out.nodes[i] = &c
	}
	return out
}

// Equal reports whether two trees hold the same model: the same structure,
// names, kinds, payloads, grids, locators, retained history and persisted
// parameter values. Node ids, lineage and transient parameters are not
// compared.
func (t *Tree) Equal(o *Tree) bool {
	if len(t.retained) != len(o.retained) {
		return false
	}
	if !sameSubtree(t.Root(), o.Root()) {
		return false
	}
	for i := range t.retained {
		if !sameSubtree(t.nodes[t.retained[i]], o.nodes[o.retained[i]]) {
			return false
		}
	}
	return true
}

func sameSubtree(a, b *Node) bool {
	if a.name != b.name || a.kind != b.kind || !a.payload.Equal(b.payload) {
		return false
	}
	if a.locator.Placed != b.locator.Placed || a.locator.Coord != b.locator.Coord {
		return false
	}
	if !sameGrid(a.grid, b.grid) || !a.params.PersistedEqual(b.params) {
		return false
	}
	if len(a.children) != len(b.children) {
		return false
	}
	for i := range a.children {
		if !sameSubtree(a.tree.nodes[a.children[i]], b.tree.nodes[b.children[i]]) {
			return false
		}
	}
	return true
}

func sameGrid(a, b grid.Grid) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	sa, sb := a.Spec(), b.Spec()
	return sa.Kind == sb.Kind && sa.Pitch == sb.Pitch && sa.Symmetry == sb.Symmetry &&
		sa.Rings == sb.Rings && sa.AzimuthalBins == sb.AzimuthalBins &&
		floatsEqual(sa.RadialBounds, sb.RadialBounds) && floatsEqual(sa.AxialBounds, sb.AxialBounds)
}

func floatsEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RestoredNode is one node of a tree being rebuilt from persisted state.
// Parent is NoNode for the root and for the roots of retained subtrees.
type RestoredNode struct {
	ID      NodeID
	Name    string
	Kind    Kind
	Payload Payload
	Grid    grid.Grid
	Parent  NodeID
	Coord   grid.Coord
	Placed  bool
	Params  *param.Collection
}

// Restore rebuilds a tree. nodes[0] is the root; every other node must
// follow its parent, and children keep the order in which they appear.
// Every parentless node other than the root must be listed in retained.
func Restore(reg *param.Registry, lineage uuid.UUID, nodes []RestoredNode, retained []NodeID) (*Tree, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: no root node", ErrInvalidHierarchy)
	}
	if nodes[0].Parent != NoNode {
		return nil, fmt.Errorf("%w: root %s has a parent", ErrInvalidHierarchy, nodes[0].Name)
	}
	size := 0
	for _, rn := range nodes {
		if rn.ID < 0 {
			return nil, fmt.Errorf("%w: negative id %d for %s", ErrInvalidHierarchy, rn.ID, rn.Name)
		}
		size = max(size, int(rn.ID)+1)
	}

	t := &Tree{registry: reg, lineage: lineage, nodes: make([]*Node, size), root: nodes[0].ID}
	isRetained := make(map[NodeID]bool, len(retained))
	for _, id := range retained {
		if isRetained[id] {
			return nil, fmt.Errorf("%w: node %d retained twice", ErrDuplicateNode, id)
		}
		isRetained[id] = true
	}

	for i, rn := range nodes {
		if t.nodes[rn.ID] != nil {
			return nil, fmt.Errorf("%w: id %d", ErrDuplicateNode, rn.ID)
		}
		params := rn.Params
		if params == nil {
			params = param.NewCollection(reg)
		} else if params.Registry() != reg {
			return nil, fmt.Errorf("%w: %s parameters use another registry", ErrForeignNode, rn.Name)
		}
		n := &Node{
			tree:    t,
			id:      rn.ID,
			name:    rn.Name,
			kind:    rn.Kind,
			payload: rn.Payload.Clone(),
			grid:    rn.Grid,
			params:  params,
			parent:  NoNode,
		}
		t.nodes[rn.ID] = n

		if rn.Parent == NoNode {
			if i > 0 && !isRetained[rn.ID] {
				return nil, fmt.Errorf("%w: %s has no parent and is not retained", ErrInvalidHierarchy, n)
			}
			continue
		}
		if isRetained[rn.ID] {
			return nil, fmt.Errorf("%w: retained node %s has a parent", ErrInvalidHierarchy, n)
		}
		parent, ok := t.Node(rn.Parent)
		if !ok {
			return nil, fmt.Errorf("%w: parent %d of %s not restored before it", ErrInvalidHierarchy, rn.Parent, n)
		}
		if !parent.kind.canContain(n.kind) {
			return nil, fmt.Errorf("%w: %s cannot contain %s", ErrInvalidHierarchy, parent.kind, n.kind)
		}
		if parent.grid != nil && !rn.Placed {
			return nil, fmt.Errorf("%w: %s is unplaced in the grid of %s", ErrInvalidHierarchy, n, parent)
		}
		loc := Locator{}
		if rn.Placed {
			var err error
			if loc, err = parent.slot(rn.Coord, NoNode); err != nil {
				return nil, fmt.Errorf("restore %s: %w", n, err)
			}
		}
		parent.attach(n, loc)
	}

	for _, id := range retained {
		if _, ok := t.Node(id); !ok {
			return nil, fmt.Errorf("%w: retained node %d not restored", ErrInvalidHierarchy, id)
		}
		if id == t.root {
			return nil, fmt.Errorf("%w: root cannot be retained", ErrInvalidHierarchy)
		}
		t.retained = append(t.retained, id)
	}
	return t, nil
}
