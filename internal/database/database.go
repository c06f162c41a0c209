// Package database persists composite trees as time-indexed snapshots.
//
// A snapshot is keyed by (cycle, time node) and stores the tree column by
// column: one column per node attribute and one per persisted parameter,
// each compressed on its own. Loads can be restricted to a subtree and to a
// subset of the parameters.
package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"reactorstate/internal/composite"
	"reactorstate/internal/logging"
	"reactorstate/internal/model"
	"reactorstate/internal/param"
	"reactorstate/internal/storage"
)

var (
	ErrSnapshotNotFound  = errors.New("snapshot not found")
	ErrNodeNotFound      = errors.New("node not found in snapshot")
	ErrDuplicateSnapshot = storage.ErrDuplicateSnapshot
	ErrStoreClosed       = storage.ErrStoreClosed
)

// Database is the state store of one run. Writes of one tree must not
// overlap with structural changes to that tree.
type Database struct {
	store    storage.Store
	registry *param.Registry
	logger   *slog.Logger
}

type Option func(*Database)

func WithLogger(logger *slog.Logger) Option {
	return func(db *Database) { db.logger = logging.OrNop(logger) }
}

// Open initializes store and returns a database that restores trees against
// reg.
func Open(ctx context.Context, store storage.Store, reg *param.Registry, opts ...Option) (*Database, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if reg == nil {
		return nil, errors.New("parameter registry is required")
	}
	db := &Database{store: store, registry: reg, logger: logging.Nop()}
	for _, opt := range opts {
		opt(db)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return db, nil
}

func (db *Database) Registry() *param.Registry { return db.registry }

// Close closes the underlying store. Closing twice is a no-op.
func (db *Database) Close() error {
	return db.store.Close()
}

type writeOptions struct {
	force bool
}

type WriteOption func(*writeOptions)

// Force replaces an existing snapshot under the same key.
func Force() WriteOption {
	return func(o *writeOptions) { o.force = true }
}

// WriteSnapshot stores tree under (cycle, timeNode). Writing the same state
// to an existing key again is a no-op; writing a different state fails with
// ErrDuplicateSnapshot unless Force is given.
func (db *Database) WriteSnapshot(ctx context.Context, tree *composite.Tree, cycle, timeNode int, opts ...WriteOption) error {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	key := model.SnapshotKey{Cycle: cycle, TimeNode: timeNode}
	start := time.Now()

	rec, err := encodeTree(ctx, tree, key)
	if err != nil {
		snapshotWrites.WithLabelValues("failed").Inc()
		return fmt.Errorf("write snapshot %s: %w", key, err)
	}

	err = db.store.SaveSnapshot(ctx, rec, o.force)
	if errors.Is(err, storage.ErrDuplicateSnapshot) {
		existing, ok, getErr := db.store.GetSnapshot(ctx, key)
		if getErr == nil && ok && sameRecord(existing, rec) {
			snapshotWrites.WithLabelValues("unchanged").Inc()
			db.logger.Debug("snapshot unchanged", "key", key.String())
			return nil
		}
	}
	if err != nil {
		snapshotWrites.WithLabelValues("failed").Inc()
		return fmt.Errorf("write snapshot %s: %w", key, err)
	}

	encoded, raw := rec.EncodedSize(), rec.RawSize()
	snapshotWrites.WithLabelValues("written").Inc()
	snapshotDuration.WithLabelValues("write").Observe(time.Since(start).Seconds())
	snapshotEncodedBytes.Observe(float64(encoded))
	if encoded > 0 {
		snapshotCompressionRatio.Observe(float64(raw) / float64(encoded))
	}
	db.logger.Info("snapshot written",
		"key", key.String(),
		"nodes", tree.Len(),
		"columns", len(rec.Columns),
		"encoded_bytes", encoded,
		"raw_bytes", raw,
		"forced", o.force,
	)
	return nil
}

func encodeTree(ctx context.Context, tree *composite.Tree, key model.SnapshotKey) (model.SnapshotRecord, error) {
	values, err := treeColumns(tree)
	if err != nil {
		return model.SnapshotRecord{}, err
	}
	cols, err := storage.EncodeColumns(ctx, values)
	if err != nil {
		return model.SnapshotRecord{}, err
	}
	return model.SnapshotRecord{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		Key:     key,
		Lineage: tree.Lineage().String(),
		Columns: cols,
	}, nil
}

func sameRecord(a, b model.SnapshotRecord) bool {
	return a.VersionedRecord == b.VersionedRecord && a.Key == b.Key && a.Lineage == b.Lineage &&
		slices.EqualFunc(a.Columns, b.Columns, func(x, y model.Column) bool {
			return x.Name == y.Name && x.Encoding == y.Encoding && bytes.Equal(x.Data, y.Data)
		})
}

type loadOptions struct {
	subtree string
	params  []string
}

type LoadOption func(*loadOptions)

// Subtree restricts a load to the first node called name, searching the
// attached tree before the retained history, and its descendants. The node
// becomes the root of the loaded tree.
func Subtree(name string) LoadOption {
	return func(o *loadOptions) { o.subtree = name }
}

// Parameters restricts a load to the named parameters. With no names, no
// parameter values are loaded.
func Parameters(names ...string) LoadOption {
	return func(o *loadOptions) { o.params = append([]string{}, names...) }
}

func (o loadOptions) columns() []string {
	if o.params == nil {
		return nil
	}
	cols := slices.Clone(nodeColumns)
	for _, name := range o.params {
		cols = append(cols, paramPrefix+name)
	}
	return cols
}

// LoadSnapshot rebuilds the tree stored under (cycle, timeNode).
func (db *Database) LoadSnapshot(ctx context.Context, cycle, timeNode int, opts ...LoadOption) (*composite.Tree, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	key := model.SnapshotKey{Cycle: cycle, TimeNode: timeNode}
	start := time.Now()

	rec, ok, err := db.store.GetSnapshot(ctx, key, o.columns()...)
	if err != nil {
		snapshotLoads.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("load snapshot %s: %w", key, err)
	}
	if !ok {
		snapshotLoads.WithLabelValues("missing").Inc()
		return nil, fmt.Errorf("load snapshot %s: %w", key, ErrSnapshotNotFound)
	}
	tree, err := restoreTree(ctx, db.registry, rec, o.subtree)
	if err != nil {
		snapshotLoads.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("load snapshot %s: %w", key, err)
	}

	outcome := "full"
	if o.subtree != "" || o.params != nil {
		outcome = "partial"
	}
	snapshotLoads.WithLabelValues(outcome).Inc()
	snapshotDuration.WithLabelValues("load").Observe(time.Since(start).Seconds())
	db.logger.Debug("snapshot loaded",
		"key", key.String(),
		"schema", rec.SchemaVersion,
		"nodes", tree.Len(),
		"subtree", o.subtree,
	)
	return tree, nil
}

// Snapshots yields the stored keys in ascending order. Each iteration reads
// the current key list, so the sequence can be ranged over again after
// further writes.
func (db *Database) Snapshots(ctx context.Context) iter.Seq2[model.SnapshotKey, error] {
	return func(yield func(model.SnapshotKey, error) bool) {
		keys, err := db.store.ListSnapshots(ctx)
		if err != nil {
			yield(model.SnapshotKey{}, err)
			return
		}
		for _, k := range keys {
			if !yield(k, nil) {
				return
			}
		}
	}
}

// Delete removes a snapshot and reports whether it existed.
func (db *Database) Delete(ctx context.Context, cycle, timeNode int) (bool, error) {
	key := model.SnapshotKey{Cycle: cycle, TimeNode: timeNode}
	deleted, err := db.store.DeleteSnapshot(ctx, key)
	if err != nil {
		return false, fmt.Errorf("delete snapshot %s: %w", key, err)
	}
	if deleted {
		db.logger.Info("snapshot deleted", "key", key.String())
	}
	return deleted, nil
}

// SnapshotInfo summarizes a stored snapshot without rebuilding its tree.
type SnapshotInfo struct {
	Key           model.SnapshotKey
	Lineage       string
	SchemaVersion int
	Nodes         int
	Parameters    []string
	EncodedSize   int
	RawSize       int
}

func (db *Database) Info(ctx context.Context, cycle, timeNode int) (SnapshotInfo, error) {
	key := model.SnapshotKey{Cycle: cycle, TimeNode: timeNode}
	rec, ok, err := db.store.GetSnapshot(ctx, key)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("snapshot %s: %w", key, err)
	}
	if !ok {
		return SnapshotInfo{}, fmt.Errorf("snapshot %s: %w", key, ErrSnapshotNotFound)
	}
	col, ok := rec.Column(colMeta)
	if !ok {
		return SnapshotInfo{}, fmt.Errorf("snapshot %s: %w: missing column %s", key, ErrCorruptSnapshot, colMeta)
	}
	var meta snapshotMeta
	if err := storage.DecodeColumn(col, &meta); err != nil {
		return SnapshotInfo{}, fmt.Errorf("snapshot %s: %w", key, err)
	}
	return SnapshotInfo{
		Key:           key,
		Lineage:       rec.Lineage,
		SchemaVersion: rec.SchemaVersion,
		Nodes:         meta.Nodes,
		Parameters:    meta.Parameters,
		EncodedSize:   rec.EncodedSize(),
		RawSize:       rec.RawSize(),
	}, nil
}
