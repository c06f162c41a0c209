package reactorstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"reactorstate/internal/composite"
	"reactorstate/internal/config"
	"reactorstate/internal/database"
	"reactorstate/internal/logging"
	"reactorstate/internal/model"
	"reactorstate/internal/param"
	"reactorstate/internal/reactor"
	"reactorstate/internal/stats"
	"reactorstate/internal/storage"
)

var (
	ErrNoBlueprint      = errors.New("configuration has no blueprint")
	ErrAssemblyNotFound = errors.New("assembly not found in core")
)

// Options override the settings file. Empty fields keep the file's (or the
// default) value.
type Options struct {
	ConfigPath string
	StoreKind  string
	DBPath     string
	SyncWrites bool
	Logger     *slog.Logger
}

type Client struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *param.Registry
	store    storage.Store
	db       *database.Database
}

type SnapshotRef struct {
	Cycle    int
	TimeNode int
}

func (r SnapshotRef) next() SnapshotRef {
	return SnapshotRef{Cycle: r.Cycle, TimeNode: r.TimeNode + 1}
}

type SnapshotSummary struct {
	Cycle        int
	TimeNode     int
	Lineage      string
	Nodes        int
	Parameters   []string
	EncodedBytes int
	RawBytes     int
}

type BuildRequest struct {
	At    SnapshotRef
	Force bool
}

type SnapshotsRequest struct {
	Limit int
}

type ShowRequest struct {
	At      SnapshotRef
	Subtree string
	// Parameters limits the values shown. Nil shows every value.
	Parameters []string
}

type NodeItem struct {
	ID       int
	Name     string
	Kind     string
	Depth    int
	Placed   bool
	Coord    string
	Retained bool
	Params   map[string]string
}

type SwapRequest struct {
	From SnapshotRef
	A, B string
}

type ShuffleRequest struct {
	From SnapshotRef
	Ring int
}

type DischargeRequest struct {
	From     SnapshotRef
	Assembly string
}

type RollUpRequest struct {
	From SnapshotRef
	// Parameter names the value to roll up. Empty rolls up every parameter
	// that has a rule.
	Parameter string
}

type ExportRequest struct {
	At     SnapshotRef
	OutDir string
}

func New(opts Options) (*Client, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.StoreKind != "" {
		cfg.Store.Backend = opts.StoreKind
	}
	if opts.DBPath != "" {
		cfg.Store.Path = opts.DBPath
	}
	cfg.Store.SyncWrites = cfg.Store.SyncWrites || opts.SyncWrites

	logger := opts.Logger
	if logger == nil {
		if logger, err = logging.New(cfg.Logging); err != nil {
			return nil, err
		}
	}

	defs := make([]param.Definition, 0, len(cfg.Parameters))
	for _, p := range cfg.Parameters {
		def, err := p.Definition()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	registry, err := reactor.NewRegistry(defs...)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStore(cfg.Store.Backend, cfg.Store.Path,
		storage.WithLogger(logger.With("component", "store")),
		storage.WithSyncWrites(cfg.Store.SyncWrites),
	)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		store:    store,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensureDatabase(ctx)
	return err
}

// Build constructs the configured blueprint, rolls every parameter up and
// writes the result.
func (c *Client) Build(ctx context.Context, req BuildRequest) (SnapshotSummary, error) {
	if c.cfg.Blueprint == nil {
		return SnapshotSummary{}, ErrNoBlueprint
	}
	db, err := c.ensureDatabase(ctx)
	if err != nil {
		return SnapshotSummary{}, err
	}
	tree, err := reactor.Build(c.cfg.Blueprint, c.registry)
	if err != nil {
		return SnapshotSummary{}, err
	}
	if err := tree.RollUpAll(); err != nil {
		return SnapshotSummary{}, err
	}
	var opts []database.WriteOption
	if req.Force {
		opts = append(opts, database.Force())
	}
	if err := db.WriteSnapshot(ctx, tree, req.At.Cycle, req.At.TimeNode, opts...); err != nil {
		return SnapshotSummary{}, err
	}
	return c.summary(ctx, db, req.At)
}

func (c *Client) Snapshots(ctx context.Context, req SnapshotsRequest) ([]SnapshotSummary, error) {
	db, err := c.ensureDatabase(ctx)
	if err != nil {
		return nil, err
	}
	var out []SnapshotSummary
	for key, err := range db.Snapshots(ctx) {
		if err != nil {
			return nil, err
		}
		if req.Limit > 0 && len(out) >= req.Limit {
			break
		}
		s, err := c.summary(ctx, db, SnapshotRef{Cycle: key.Cycle, TimeNode: key.TimeNode})
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Show lists the nodes of a snapshot in pre-order, attached nodes first.
func (c *Client) Show(ctx context.Context, req ShowRequest) ([]NodeItem, error) {
	db, err := c.ensureDatabase(ctx)
	if err != nil {
		return nil, err
	}
	var opts []database.LoadOption
	if req.Subtree != "" {
		opts = append(opts, database.Subtree(req.Subtree))
	}
	if req.Parameters != nil {
		opts = append(opts, database.Parameters(req.Parameters...))
	}
	tree, err := db.LoadSnapshot(ctx, req.At.Cycle, req.At.TimeNode, opts...)
	if err != nil {
		return nil, err
	}

	var items []NodeItem
	for n := range tree.Nodes() {
		items = append(items, nodeItem(n))
	}
	return items, nil
}

func nodeItem(n *composite.Node) NodeItem {
	depth := 0
	top := n
	for p := n.Parent(); p != nil; p = p.Parent() {
		depth++
		top = p
	}
	loc := n.Locator()
	item := NodeItem{
		ID:       int(n.ID()),
		Name:     n.Name(),
		Kind:     n.Kind().String(),
		Depth:    depth,
		Placed:   loc.Placed,
		Retained: !top.IsRoot(),
		Params:   make(map[string]string),
	}
	if loc.Placed {
		item.Coord = loc.Coord.String()
	}
	for _, name := range n.Params().Names() {
		item.Params[name] = n.Params().Get(name).String()
	}
	for _, name := range n.Params().RawNames() {
		raw, _ := n.Params().Raw(name)
		item.Params[name] = fmt.Sprintf("%s(%s)", raw.Type, raw.Data)
	}
	return item
}

// Swap exchanges two assemblies and writes the next time node.
func (c *Client) Swap(ctx context.Context, req SwapRequest) (SnapshotSummary, error) {
	return c.mutate(ctx, req.From, func(tree *composite.Tree) error {
		a, err := c.assembly(tree, req.A)
		if err != nil {
			return err
		}
		b, err := c.assembly(tree, req.B)
		if err != nil {
			return err
		}
		return reactor.SwapAssemblies(tree, a, b)
	})
}

// Shuffle moves every assembly of a ring one occupied position forward and
// writes the next time node.
func (c *Client) Shuffle(ctx context.Context, req ShuffleRequest) (SnapshotSummary, error) {
	return c.mutate(ctx, req.From, func(tree *composite.Tree) error {
		core, err := reactor.Core(tree)
		if err != nil {
			return err
		}
		moved, err := reactor.ShuffleRing(core, req.Ring)
		if err != nil {
			return err
		}
		c.logger.Info("ring shuffled", "ring", req.Ring, "moved", moved)
		return nil
	})
}

// Discharge moves an assembly to the retained history, stamped with the
// snapshot's cycle, and writes the next time node.
func (c *Client) Discharge(ctx context.Context, req DischargeRequest) (SnapshotSummary, error) {
	return c.mutate(ctx, req.From, func(tree *composite.Tree) error {
		a, err := c.assembly(tree, req.Assembly)
		if err != nil {
			return err
		}
		return reactor.Discharge(a, req.From.Cycle)
	})
}

// RollUp recomputes one parameter, or all of them, and writes the next time
// node.
func (c *Client) RollUp(ctx context.Context, req RollUpRequest) (SnapshotSummary, error) {
	return c.mutate(ctx, req.From, func(tree *composite.Tree) error {
		if req.Parameter == "" {
			return tree.RollUpAll()
		}
		return tree.Root().RollUp(req.Parameter)
	})
}

func (c *Client) Delete(ctx context.Context, at SnapshotRef) (bool, error) {
	db, err := c.ensureDatabase(ctx)
	if err != nil {
		return false, err
	}
	return db.Delete(ctx, at.Cycle, at.TimeNode)
}

// Export writes a snapshot's node table and summary under req.OutDir and
// returns the directory written.
func (c *Client) Export(ctx context.Context, req ExportRequest) (string, error) {
	if req.OutDir == "" {
		return "", errors.New("export directory is required")
	}
	db, err := c.ensureDatabase(ctx)
	if err != nil {
		return "", err
	}
	tree, err := db.LoadSnapshot(ctx, req.At.Cycle, req.At.TimeNode)
	if err != nil {
		return "", err
	}
	key := model.SnapshotKey{Cycle: req.At.Cycle, TimeNode: req.At.TimeNode}
	dir, err := stats.WriteSnapshotArtifacts(req.OutDir, key, tree)
	if err != nil {
		return "", fmt.Errorf("export snapshot %s: %w", key, err)
	}
	c.logger.Info("snapshot exported", "key", key.String(), "dir", dir)
	return dir, nil
}

// Parameters describes the registry the client loads snapshots with.
func (c *Client) Parameters() []string {
	var out []string
	for _, def := range c.registry.Definitions() {
		out = append(out, fmt.Sprintf("%s %s rule=%s persist=%t", def.Name, def.Type, def.Rule, def.Persist))
	}
	return out
}

func (c *Client) mutate(ctx context.Context, from SnapshotRef, fn func(*composite.Tree) error) (SnapshotSummary, error) {
	db, err := c.ensureDatabase(ctx)
	if err != nil {
		return SnapshotSummary{}, err
	}
	tree, err := db.LoadSnapshot(ctx, from.Cycle, from.TimeNode)
	if err != nil {
		return SnapshotSummary{}, err
	}
	if err := fn(tree); err != nil {
		return SnapshotSummary{}, err
	}
	to := from.next()
	if err := db.WriteSnapshot(ctx, tree, to.Cycle, to.TimeNode); err != nil {
		return SnapshotSummary{}, err
	}
	return c.summary(ctx, db, to)
}

func (c *Client) assembly(tree *composite.Tree, name string) (*composite.Node, error) {
	for a := range reactor.Assemblies(tree) {
		if a.Name() == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAssemblyNotFound, name)
}

func (c *Client) summary(ctx context.Context, db *database.Database, at SnapshotRef) (SnapshotSummary, error) {
	info, err := db.Info(ctx, at.Cycle, at.TimeNode)
	if err != nil {
		return SnapshotSummary{}, err
	}
	return SnapshotSummary{
		Cycle:        info.Key.Cycle,
		TimeNode:     info.Key.TimeNode,
		Lineage:      info.Lineage,
		Nodes:        info.Nodes,
		Parameters:   info.Parameters,
		EncodedBytes: info.EncodedSize,
		RawBytes:     info.RawSize,
	}, nil
}

func (c *Client) ensureDatabase(ctx context.Context) (*database.Database, error) {
	if c.db != nil {
		return c.db, nil
	}
	db, err := database.Open(ctx, c.store, c.registry, database.WithLogger(c.logger))
	if err != nil {
		return nil, err
	}
	c.db = db
	return db, nil
}

// ParamNames returns the keys of a node item's parameters in order.
func (n NodeItem) ParamNames() []string {
	return slices.Sorted(maps.Keys(n.Params))
}
