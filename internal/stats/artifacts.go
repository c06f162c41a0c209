package stats

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"reactorstate/internal/composite"
	"reactorstate/internal/model"
	"reactorstate/internal/param"
)

const (
	nodesFile       = "nodes.csv"
	summaryFile     = "summary.json"
	exportIndexFile = "exports.json"
)

var nodeHeader = []string{"id", "parent", "path", "kind", "retained", "placed", "i", "j", "k", "x", "y", "z"}

// Summary describes one exported snapshot. Totals holds the root's value of
// every float parameter set on it.
type Summary struct {
	Cycle        int                `json:"cycle"`
	TimeNode     int                `json:"time_node"`
	Lineage      string             `json:"lineage"`
	Nodes        int                `json:"nodes"`
	Retained     int                `json:"retained"`
	KindCounts   map[string]int     `json:"kind_counts"`
	Totals       map[string]float64 `json:"totals,omitempty"`
	Parameters   []string           `json:"parameters"`
	CreatedAtUTC string             `json:"created_at_utc"`
}

// IndexEntry is one line of the export index kept next to the exports.
type IndexEntry struct {
	Key          string `json:"key"`
	Lineage      string `json:"lineage"`
	Nodes        int    `json:"nodes"`
	CreatedAtUTC string `json:"created_at_utc"`
}

// WriteSnapshotArtifacts writes tree's node table and summary under
// baseDir/<key> and records the export in the index. It returns the export
// directory.
func WriteSnapshotArtifacts(baseDir string, key model.SnapshotKey, tree *composite.Tree) (string, error) {
	if tree == nil {
		return "", errors.New("tree is required")
	}
	dir := filepath.Join(baseDir, key.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	summary := Summarize(key, tree)
	if err := writeJSON(filepath.Join(dir, summaryFile), summary); err != nil {
		return "", err
	}
	if err := writeNodeTable(filepath.Join(dir, nodesFile), tree, summary.Parameters); err != nil {
		return "", err
	}
	err := AppendExportIndex(baseDir, IndexEntry{
		Key:          key.String(),
		Lineage:      summary.Lineage,
		Nodes:        summary.Nodes,
		CreatedAtUTC: summary.CreatedAtUTC,
	})
	if err != nil {
		return "", err
	}
	return dir, nil
}

func Summarize(key model.SnapshotKey, tree *composite.Tree) Summary {
	s := Summary{
		Cycle:        key.Cycle,
		TimeNode:     key.TimeNode,
		Lineage:      tree.Lineage().String(),
		Nodes:        tree.Len(),
		Retained:     len(tree.Retained()),
		KindCounts:   make(map[string]int),
		Totals:       make(map[string]float64),
		Parameters:   parameterNames(tree),
		CreatedAtUTC: time.Now().UTC().Format(time.RFC3339),
	}
	for n := range tree.Nodes() {
		s.KindCounts[n.Kind().String()]++
	}
	root := tree.Root().Params()
	for _, name := range root.Names() {
		v := root.Get(name)
		if v.Type() != param.TypeFloat {
			continue
		}
		s.Totals[name] = v.AsFloat()
	}
	return s
}

// parameterNames lists every persisted parameter set somewhere in tree,
// sorted.
func parameterNames(tree *composite.Tree) []string {
	seen := make(map[string]bool)
	for n := range tree.Nodes() {
		p := n.Params().Persisted()
		for _, name := range p.Names() {
			seen[name] = true
		}
		for _, name := range p.RawNames() {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func writeNodeTable(path string, tree *composite.Tree, params []string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(append(slices.Clone(nodeHeader), params...)); err != nil {
		return err
	}

	retained := make(map[composite.NodeID]bool)
	for _, r := range tree.Retained() {
		for n := range r.Subtree() {
			retained[n.ID()] = true
		}
	}
	for n := range tree.Nodes() {
		if err := writer.Write(nodeRow(n, retained[n.ID()], params)); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Sync()
}

func nodeRow(n *composite.Node, retained bool, params []string) []string {
	parent := ""
	if p := n.Parent(); p != nil {
		parent = strconv.Itoa(int(p.ID()))
	}
	row := []string{
		strconv.Itoa(int(n.ID())),
		parent,
		n.Path(),
		n.Kind().String(),
		strconv.FormatBool(retained),
	}
	loc := n.Locator()
	if loc.Placed {
		row = append(row,
			"true",
			strconv.Itoa(loc.Coord.I),
			strconv.Itoa(loc.Coord.J),
			strconv.Itoa(loc.Coord.K),
			strconv.FormatFloat(loc.Offset.X, 'g', -1, 64),
			strconv.FormatFloat(loc.Offset.Y, 'g', -1, 64),
			strconv.FormatFloat(loc.Offset.Z, 'g', -1, 64),
		)
	} else {
		row = append(row, "false", "", "", "", "", "", "")
	}

	values := n.Params().Persisted()
	for _, name := range params {
		switch {
		case values.IsSet(name):
			row = append(row, values.Get(name).String())
		default:
			if raw, ok := values.Raw(name); ok {
				row = append(row, string(raw.Data))
			} else {
				row = append(row, "")
			}
		}
	}
	return row
}

// ReadNodeTable loads an exported node table as header-keyed rows.
func ReadNodeTable(dir string) ([]map[string]string, error) {
	file, err := os.Open(filepath.Join(dir, nodesFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read node table: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("read node table: missing header")
	}
	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]string, len(header))
		for i, name := range header {
			row[name] = record[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func ReadSummary(dir string) (Summary, error) {
	data, err := os.ReadFile(filepath.Join(dir, summaryFile))
	if err != nil {
		return Summary{}, err
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return Summary{}, fmt.Errorf("decode summary: %w", err)
	}
	return s, nil
}

// AppendExportIndex adds entry to the index under baseDir, replacing an
// earlier export of the same key.
func AppendExportIndex(baseDir string, entry IndexEntry) error {
	if entry.Key == "" {
		return errors.New("export key is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListExportIndex(baseDir)
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].Key == entry.Key {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, exportIndexFile), index)
		}
	}
	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, exportIndexFile), index)
}

func ListExportIndex(baseDir string) ([]IndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, exportIndexFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []IndexEntry{}, nil
		}
		return nil, err
	}
	var index []IndexEntry
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("decode export index: %w", err)
	}
	return index, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
