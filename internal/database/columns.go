package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"

	"reactorstate/internal/composite"
	"reactorstate/internal/grid"
	"reactorstate/internal/model"
	"reactorstate/internal/param"
	"reactorstate/internal/storage"
)

// A snapshot stores one row per node, in the order Tree.Nodes yields them,
// spread over the node.* columns. Each persisted parameter gets its own
// sparse column listing the ids of the nodes that set it.
const (
	colMeta     = "meta"
	colID       = "node.id"
	colName     = "node.name"
	colKind     = "node.kind"
	colParent   = "node.parent"
	colPlaced   = "node.placed"
	colI        = "node.i"
	colJ        = "node.j"
	colK        = "node.k"
	colGrid     = "node.grid"
	colPayload  = "node.payload"
	colRetained = "tree.retained"

	paramPrefix = "param."
)

var ErrCorruptSnapshot = errors.New("corrupt snapshot")

type snapshotMeta struct {
	Root       composite.NodeID `json:"root"`
	Nodes      int              `json:"nodes"`
	Parameters []string         `json:"parameters"`
}

// paramColumn holds every value of one parameter. Types is only present
// when the entries disagree on their type, which happens when opaque values
// of an older type sit next to values of the registered one. Derived lists
// the nodes whose value a roll-up computed.
type paramColumn struct {
	Type    string             `json:"type"`
	Types   []string           `json:"types,omitempty"`
	Nodes   []composite.NodeID `json:"nodes"`
	Values  []json.RawMessage  `json:"values"`
	Derived []composite.NodeID `json:"derived,omitempty"`
}

func (c *paramColumn) add(typ string, id composite.NodeID, data json.RawMessage) {
	if len(c.Nodes) == 0 {
		c.Type = typ
	}
	if c.Types == nil && typ != c.Type {
		c.Types = slices.Repeat([]string{c.Type}, len(c.Nodes))
	}
	if c.Types != nil {
		c.Types = append(c.Types, typ)
	}
	c.Nodes = append(c.Nodes, id)
	c.Values = append(c.Values, data)
}

func (c *paramColumn) typeAt(i int) string {
	if c.Types != nil {
		return c.Types[i]
	}
	return c.Type
}

type nodeRows struct {
	ids      []composite.NodeID
	names    []string
	kinds    []string
	parents  []composite.NodeID
	placed   []bool
	is       []int
	js       []int
	ks       []int
	grids    []*grid.Spec
	payloads []composite.Payload
	retained []composite.NodeID
}

func (r *nodeRows) len() int { return len(r.ids) }

// treeColumns flattens t into column values, node columns first and then
// parameter columns by name.
func treeColumns(t *composite.Tree) ([]storage.ColumnValue, error) {
	var rows nodeRows
	params := make(map[string]*paramColumn)

	for n := range t.Nodes() {
		parent := composite.NoNode
		if p := n.Parent(); p != nil {
			parent = p.ID()
		}
		loc := n.Locator()
		var spec *grid.Spec
		if g := n.Grid(); g != nil {
			s := g.Spec()
			spec = &s
		}
		rows.ids = append(rows.ids, n.ID())
		rows.names = append(rows.names, n.Name())
		rows.kinds = append(rows.kinds, n.Kind().String())
		rows.parents = append(rows.parents, parent)
		rows.placed = append(rows.placed, loc.Placed)
		rows.is = append(rows.is, loc.Coord.I)
		rows.js = append(rows.js, loc.Coord.J)
		rows.ks = append(rows.ks, loc.Coord.K)
		rows.grids = append(rows.grids, spec)
		rows.payloads = append(rows.payloads, n.Payload())

		if err := collectParams(params, t.Registry(), n); err != nil {
			return nil, err
		}
	}
	for _, r := range t.Retained() {
		rows.retained = append(rows.retained, r.ID())
	}
	if rows.retained == nil {
		rows.retained = []composite.NodeID{}
	}

	names := slices.Sorted(maps.Keys(params))
	values := []storage.ColumnValue{
		{Name: colMeta, Value: snapshotMeta{Root: t.Root().ID(), Nodes: rows.len(), Parameters: names}},
		{Name: colID, Value: rows.ids},
		{Name: colName, Value: rows.names},
		{Name: colKind, Value: rows.kinds},
		{Name: colParent, Value: rows.parents},
		{Name: colPlaced, Value: rows.placed},
		{Name: colI, Value: rows.is},
		{Name: colJ, Value: rows.js},
		{Name: colK, Value: rows.ks},
		{Name: colGrid, Value: rows.grids},
		{Name: colPayload, Value: rows.payloads},
		{Name: colRetained, Value: rows.retained},
	}
	for _, name := range names {
		values = append(values, storage.ColumnValue{Name: paramPrefix + name, Value: params[name]})
	}
	return values, nil
}

func collectParams(cols map[string]*paramColumn, reg *param.Registry, n *composite.Node) error {
	pc := n.Params()
	column := func(name string) *paramColumn {
		c, ok := cols[name]
		if !ok {
			c = &paramColumn{}
			cols[name] = c
		}
		return c
	}
	for _, name := range pc.Names() {
		def, ok := reg.Lookup(name)
		if !ok || !def.Persist {
			continue
		}
		v := pc.Get(name)
		data, err := json.Marshal(v.Payload())
		if err != nil {
			return fmt.Errorf("parameter %s of %s: %w", name, n, err)
		}
		c := column(name)
		c.add(v.Type().String(), n.ID(), data)
		if pc.IsDerived(name) {
			c.Derived = append(c.Derived, n.ID())
		}
	}
	for _, name := range pc.RawNames() {
		r, _ := pc.Raw(name)
		column(name).add(r.Type, n.ID(), r.Data)
	}
	return nil
}

// nodeColumns lists the columns every load needs, whatever parameters it
// selects.
var nodeColumns = []string{
	colMeta, colID, colName, colKind, colParent, colPlaced,
	colI, colJ, colK, colGrid, colPayload, colRetained,
}

func decodeRows(ctx context.Context, rec model.SnapshotRecord) (snapshotMeta, nodeRows, error) {
	var (
		meta snapshotMeta
		rows nodeRows
	)
	targets := map[string]any{
		colMeta:    &meta,
		colID:      &rows.ids,
		colName:    &rows.names,
		colKind:    &rows.kinds,
		colParent:  &rows.parents,
		colI:       &rows.is,
		colJ:       &rows.js,
		colK:       &rows.ks,
		colGrid:    &rows.grids,
		colPayload: &rows.payloads,
	}
	required := slices.Collect(maps.Keys(targets))
	if rec.SchemaVersion >= 2 {
		targets[colPlaced] = &rows.placed
		targets[colRetained] = &rows.retained
		required = append(required, colPlaced, colRetained)
	}
	for _, name := range required {
		if _, ok := rec.Column(name); !ok {
			return meta, rows, fmt.Errorf("%w: missing column %s", ErrCorruptSnapshot, name)
		}
	}
	if err := storage.DecodeColumns(ctx, rec, targets); err != nil {
		return meta, rows, err
	}

	n := rows.len()
	lengths := []int{len(rows.names), len(rows.kinds), len(rows.parents), len(rows.is),
		len(rows.js), len(rows.ks), len(rows.grids), len(rows.payloads)}
	if rec.SchemaVersion >= 2 {
		lengths = append(lengths, len(rows.placed))
	}
	if meta.Nodes != n || slices.ContainsFunc(lengths, func(l int) bool { return l != n }) {
		return meta, rows, fmt.Errorf("%w: node columns disagree on length", ErrCorruptSnapshot)
	}
	if n == 0 || rows.ids[0] != meta.Root {
		return meta, rows, fmt.Errorf("%w: first row is not the root", ErrCorruptSnapshot)
	}
	if rec.SchemaVersion < 2 {
		upgradeV1(&rows)
	}
	return meta, rows, nil
}

// upgradeV1 fills in what schema 1 did not store. Schema 1 placed every
// child of a gridded parent and had no retained history.
func upgradeV1(rows *nodeRows) {
	gridded := make(map[composite.NodeID]bool, rows.len())
	for r, id := range rows.ids {
		gridded[id] = rows.grids[r] != nil
	}
	rows.placed = make([]bool, rows.len())
	for r, parent := range rows.parents {
		rows.placed[r] = parent != composite.NoNode && gridded[parent]
	}
	rows.retained = nil
}

// decodeParams reads every parameter column of rec into per-node
// collections. Values of unknown, unpersisted or retyped parameters are kept
// opaque.
func decodeParams(ctx context.Context, reg *param.Registry, rec model.SnapshotRecord, rows nodeRows) (map[composite.NodeID]*param.Collection, error) {
	out := make(map[composite.NodeID]*param.Collection, rows.len())
	for _, id := range rows.ids {
		out[id] = param.NewCollection(reg)
	}

	columns := make(map[string]*paramColumn)
	targets := make(map[string]any)
	for _, col := range rec.Columns {
		if name, ok := strings.CutPrefix(col.Name, paramPrefix); ok {
			pc := &paramColumn{}
			columns[name] = pc
			targets[col.Name] = pc
		}
	}
	if err := storage.DecodeColumns(ctx, rec, targets); err != nil {
		return nil, err
	}

	for _, name := range slices.Sorted(maps.Keys(columns)) {
		pc := columns[name]
		if len(pc.Values) != len(pc.Nodes) || (pc.Types != nil && len(pc.Types) != len(pc.Nodes)) {
			return nil, fmt.Errorf("%w: parameter %s columns disagree on length", ErrCorruptSnapshot, name)
		}
		def, known := reg.Lookup(name)
		derived := make(map[composite.NodeID]bool, len(pc.Derived))
		for _, id := range pc.Derived {
			derived[id] = true
		}
		for i, id := range pc.Nodes {
			coll, ok := out[id]
			if !ok {
				return nil, fmt.Errorf("%w: parameter %s set on unknown node %d", ErrCorruptSnapshot, name, id)
			}
			typ := pc.typeAt(i)
			if !known || !def.Persist || def.Type.String() != typ {
				coll.SetRaw(name, param.Raw{Type: typ, Data: pc.Values[i]})
				continue
			}
			v, err := param.Decode(def.Type, pc.Values[i])
			if err != nil {
				return nil, fmt.Errorf("%w: parameter %s of node %d: %v", ErrCorruptSnapshot, name, id, err)
			}
			set := coll.Set
			if derived[id] {
				set = coll.SetDerived
			}
			if err := set(name, v); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// restoreTree rebuilds the tree held by rec. A non-empty subtree restricts
// the result to the first node of that name and its descendants.
func restoreTree(ctx context.Context, reg *param.Registry, rec model.SnapshotRecord, subtree string) (*composite.Tree, error) {
	_, rows, err := decodeRows(ctx, rec)
	if err != nil {
		return nil, err
	}
	params, err := decodeParams(ctx, reg, rec, rows)
	if err != nil {
		return nil, err
	}
	lineage, err := uuid.Parse(rec.Lineage)
	if err != nil {
		return nil, fmt.Errorf("%w: lineage %q: %v", ErrCorruptSnapshot, rec.Lineage, err)
	}

	include := func(int) bool { return true }
	retained := rows.retained
	if subtree != "" {
		top := slices.Index(rows.names, subtree)
		if top < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, subtree)
		}
		keep := map[composite.NodeID]bool{rows.ids[top]: true}
		for r := top + 1; r < rows.len(); r++ {
			if keep[rows.parents[r]] {
				keep[rows.ids[r]] = true
			}
		}
		include = func(r int) bool { return keep[rows.ids[r]] }
		rows.parents[top] = composite.NoNode
		rows.placed[top] = false
		retained = nil
	}

	nodes := make([]composite.RestoredNode, 0, rows.len())
	for r := range rows.len() {
		if !include(r) {
			continue
		}
		kind, err := composite.ParseKind(rows.kinds[r])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
		var g grid.Grid
		if spec := rows.grids[r]; spec != nil {
			if g, err = grid.New(*spec); err != nil {
				return nil, fmt.Errorf("%w: grid of %s: %v", ErrCorruptSnapshot, rows.names[r], err)
			}
		}
		nodes = append(nodes, composite.RestoredNode{
			ID:      rows.ids[r],
			Name:    rows.names[r],
			Kind:    kind,
			Payload: rows.payloads[r],
			Grid:    g,
			Parent:  rows.parents[r],
			Coord:   grid.Coord{I: rows.is[r], J: rows.js[r], K: rows.ks[r]},
			Placed:  rows.placed[r],
			Params:  params[rows.ids[r]],
		})
	}
	return composite.Restore(reg, lineage, nodes, retained)
}
