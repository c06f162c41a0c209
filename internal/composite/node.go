// Package composite is the reactor object hierarchy: a tree of spatially
// located nodes, each owning an ordered list of children and a parameter
// collection.
//
// Nodes live in an arena owned by their Tree and refer to each other by
// NodeID, so the parent back-reference is an index rather than an owning
// pointer. Structural operations validate every precondition before they
// touch the arena, which makes each of them all-or-nothing.
package composite

import (
	"fmt"
	"iter"
	"maps"
	"strings"

	"reactorstate/internal/grid"
	"reactorstate/internal/param"
)

// NodeID is a node's index in its tree's arena. It is stable for the life of
// the tree.
type NodeID int

const NoNode NodeID = -1

// Kind is the level of a node in the reactor hierarchy. A node may only
// contain nodes of a deeper kind.
type Kind uint8

const (
	KindAny Kind = iota
	KindReactor
	KindCore
	KindAssembly
	KindBlock
	KindComponent
)

var kindNames = map[Kind]string{
	KindAny:       "any",
	KindReactor:   "reactor",
	KindCore:      "core",
	KindAssembly:  "assembly",
	KindBlock:     "block",
	KindComponent: "component",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == name && k != KindAny {
			return k, nil
		}
	}
	return KindAny, fmt.Errorf("unknown node kind %q", s)
}

func (k Kind) canContain(child Kind) bool {
	return k != KindAny && child != KindAny && child > k
}

// Payload is the shape and material description of a node. The model does
// not interpret it.
type Payload struct {
	Shape      string             `json:"shape,omitempty" yaml:"shape,omitempty"`
	Material   string             `json:"material,omitempty" yaml:"material,omitempty"`
	Dimensions map[string]float64 `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
}

func (p Payload) Clone() Payload {
	out := p
	if p.Dimensions != nil {
		out.Dimensions = maps.Clone(p.Dimensions)
	}
	return out
}

func (p Payload) Equal(o Payload) bool {
	return p.Shape == o.Shape && p.Material == o.Material && maps.Equal(p.Dimensions, o.Dimensions)
}

// Locator is a node's place in its parent's grid. Placed is false for
// children of a node without a grid and for nodes that are not attached.
type Locator struct {
	Coord  grid.Coord
	Offset grid.Point
	Placed bool
}

type Node struct {
	tree     *Tree
	id       NodeID
	name     string
	kind     Kind
	payload  Payload
	grid     grid.Grid
	locator  Locator
	params   *param.Collection
	parent   NodeID
	children []NodeID
	occupied map[grid.Coord]NodeID
}

type NodeOption func(*Node)

// WithGrid sets the lattice the node's children are placed on.
func WithGrid(g grid.Grid) NodeOption {
	return func(n *Node) { n.grid = g }
}

func WithPayload(p Payload) NodeOption {
	return func(n *Node) { n.payload = p.Clone() }
}

func (n *Node) ID() NodeID                { return n.id }
func (n *Node) Name() string              { return n.name }
func (n *Node) Kind() Kind                { return n.kind }
func (n *Node) Tree() *Tree               { return n.tree }
func (n *Node) Payload() Payload          { return n.payload.Clone() }
func (n *Node) Grid() grid.Grid           { return n.grid }
func (n *Node) Locator() Locator          { return n.locator }
func (n *Node) Params() *param.Collection { return n.params }
func (n *Node) NumChildren() int          { return len(n.children) }
func (n *Node) IsRoot() bool              { return n.tree.root == n.id }

func (n *Node) String() string {
	return fmt.Sprintf("<%s %s #%d>", n.kind, n.name, n.id)
}

func (n *Node) SetPayload(p Payload) { n.payload = p.Clone() }

// SetGrid replaces the node's child lattice. It is only allowed while the
// node has no children.
func (n *Node) SetGrid(g grid.Grid) error {
	if len(n.children) > 0 {
		return fmt.Errorf("%s: cannot change grid with %d children attached", n, len(n.children))
	}
	n.grid = g
	return nil
}

// Parent returns nil for the root, for detached nodes and for nodes that
// were never attached.
func (n *Node) Parent() *Node {
	if n.parent == NoNode {
		return nil
	}
	return n.tree.nodes[n.parent]
}

// Attached reports whether n is reachable from the tree root.
func (n *Node) Attached() bool {
	for cur := n; ; cur = cur.Parent() {
		if cur.IsRoot() {
			return true
		}
		if cur.parent == NoNode {
			return false
		}
	}
}

// Children returns the direct children in order.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	for i, id := range n.children {
		out[i] = n.tree.nodes[id]
	}
	return out
}

// ChildAt returns the child occupying c in n's grid, if any.
func (n *Node) ChildAt(c grid.Coord) (*Node, bool) {
	id, ok := n.occupied[c]
	if !ok {
		return nil, false
	}
	return n.tree.nodes[id], true
}

// Descendants yields the nodes below n of the given kind (KindAny for all)
// depth first in pre-order. The tree must not be restructured while the
// sequence is being consumed.
func (n *Node) Descendants(kind Kind) iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		n.walk(kind, yield)
	}
}

// Subtree yields n followed by all of its descendants.
func (n *Node) Subtree() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		if yield(n) {
			n.walk(KindAny, yield)
		}
	}
}

func (n *Node) walk(kind Kind, yield func(*Node) bool) bool {
	for _, id := range n.children {
		child := n.tree.nodes[id]
		if (kind == KindAny || child.kind == kind) && !yield(child) {
			return false
		}
		if !child.walk(kind, yield) {
			return false
		}
	}
	return true
}

// Ancestor returns the nearest ancestor of the given kind.
func (n *Node) Ancestor(kind Kind) (*Node, bool) {
	for cur := n.Parent(); cur != nil; cur = cur.Parent() {
		if cur.kind == kind {
			return cur, true
		}
	}
	return nil, false
}

// Path is the slash separated chain of names from the topmost ancestor.
func (n *Node) Path() string {
	var parts []string
	for cur := n; cur != nil; cur = cur.Parent() {
		parts = append(parts, cur.name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// isWithin reports whether n is other or lies below it.
func (n *Node) isWithin(other *Node) bool {
	for cur := n; cur != nil; cur = cur.Parent() {
		if cur == other {
			return true
		}
	}
	return false
}

func (n *Node) indexOf(id NodeID) int {
	for i, c := range n.children {
		if c == id {
			return i
		}
	}
	return -1
}
