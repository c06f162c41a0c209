package database

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reactorstate/internal/composite"
	"reactorstate/internal/config"
	"reactorstate/internal/grid"
	"reactorstate/internal/model"
	"reactorstate/internal/param"
	"reactorstate/internal/reactor"
	"reactorstate/internal/storage"
)

const xsLibrary = "xsLibrary"

// blueprint fills a three ring hex core, 19 assemblies of a reflector and a
// fuel block each.
func blueprint() *config.Blueprint {
	bp := &config.Blueprint{
		Name: "demo",
		Core: config.CoreBlueprint{Name: "core", Grid: grid.Spec{Kind: grid.KindHex, Pitch: 16.2, Rings: 3}},
	}
	for ring := 1; ring <= 3; ring++ {
		count := max(1, 6*(ring-1))
		for pos := 1; pos <= count; pos++ {
			name := fmt.Sprintf("A%d%02d", ring, pos)
			bp.Assemblies = append(bp.Assemblies, config.AssemblyBlueprint{
				Name:     name,
				Ring:     ring,
				Position: pos,
				Blocks: []config.BlockBlueprint{
					{Name: name + "-refl", Height: 20, Material: "HT9"},
					{
						Name:     name + "-fuel",
						Height:   100,
						Material: "UZr",
						Params:   map[string]float64{reactor.ParamPower: 10, reactor.ParamFlux: 1e14},
						Components: []config.ComponentBlueprint{
							{Name: "fuel", Shape: "circle", Material: "UZr", Dimensions: map[string]float64{"od": 0.6}},
							{Name: "clad", Shape: "circle", Material: "HT9", Dimensions: map[string]float64{"id": 0.6, "od": 0.7}},
						},
					},
				},
			})
		}
	}
	return bp
}

func fullRegistry(t *testing.T) *param.Registry {
	t.Helper()
	reg, err := reactor.NewRegistry(param.Definition{Name: xsLibrary, Type: param.TypeString, Persist: true})
	require.NoError(t, err)
	return reg
}

func buildTree(t *testing.T, reg *param.Registry) *composite.Tree {
	t.Helper()
	tree, err := reactor.Build(blueprint(), reg)
	require.NoError(t, err)
	return tree
}

func openDB(t *testing.T, store storage.Store, reg *param.Registry) *Database {
	t.Helper()
	db, err := Open(context.Background(), store, reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func node(t *testing.T, tree *composite.Tree, name string) *composite.Node {
	t.Helper()
	n, ok := tree.Find(name)
	require.True(t, ok, "node %s", name)
	return n
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	reg := fullRegistry(t)
	tree := buildTree(t, reg)
	core := node(t, tree, "core")
	require.NoError(t, core.Params().Set(xsLibrary, param.String("ENDF-B/VIII.0")))
	require.NoError(t, node(t, tree, "A201-fuel").Params().Set(reactor.ParamTemperature, param.Float(812.5)))
	require.NoError(t, node(t, tree, "A202-fuel").Params().Set(reactor.ParamScratchTally, param.Float(3)))
	require.NoError(t, tree.RollUpAll())
	require.NoError(t, reactor.Discharge(node(t, tree, "A305"), 1))

	db := openDB(t, storage.NewMemoryStore(), reg)
	require.NoError(t, db.WriteSnapshot(ctx, tree, 1, 0))

	loaded, err := db.LoadSnapshot(ctx, 1, 0)
	require.NoError(t, err)
	assert.True(t, tree.Equal(loaded))
	assert.Equal(t, tree.Lineage(), loaded.Lineage())
	assert.Equal(t, tree.Len(), loaded.Len())

	for n := range tree.Nodes() {
		other, ok := loaded.Node(n.ID())
		require.True(t, ok)
		assert.Equal(t, n.Name(), other.Name())
		assert.Equal(t, n.Locator(), other.Locator())
	}

	require.Len(t, loaded.Retained(), 1)
	assert.Equal(t, "A305", loaded.Retained()[0].Name())
	assert.Equal(t, int64(1), loaded.Retained()[0].Params().Int(reactor.ParamDischargeCycle))
	assert.False(t, node(t, loaded, "A202-fuel").Params().IsSet(reactor.ParamScratchTally))
	assert.Equal(t, 190.0, node(t, loaded, "core").Params().Float(reactor.ParamPower))
}

func TestRoundTripSingleNode(t *testing.T) {
	ctx := context.Background()
	reg := fullRegistry(t)
	tree := composite.NewTree(reg, "reactor", composite.KindReactor)
	require.NoError(t, tree.Root().Params().Set(reactor.ParamPower, param.Float(3000)))

	db := openDB(t, storage.NewMemoryStore(), reg)
	require.NoError(t, db.WriteSnapshot(ctx, tree, 0, 0))
	loaded, err := db.LoadSnapshot(ctx, 0, 0)
	require.NoError(t, err)
	assert.True(t, tree.Equal(loaded))
	assert.Equal(t, 1, loaded.Len())
}

func TestRoundTripBadger(t *testing.T) {
	ctx := context.Background()
	reg := fullRegistry(t)
	tree := buildTree(t, reg)
	path := t.TempDir()

	db, err := Open(ctx, storage.NewBadgerStore(storage.BadgerConfig{Path: path}), reg)
	require.NoError(t, err)
	require.NoError(t, db.WriteSnapshot(ctx, tree, 2, 3))
	require.NoError(t, db.Close())

	db = openDB(t, storage.NewBadgerStore(storage.BadgerConfig{Path: path}), reg)
	loaded, err := db.LoadSnapshot(ctx, 2, 3)
	require.NoError(t, err)
	assert.True(t, tree.Equal(loaded))
}

func TestSlashedParameterNamesListOnEveryBackend(t *testing.T) {
	ctx := context.Background()
	backends := map[string]func() storage.Store{
		"memory": func() storage.Store { return storage.NewMemoryStore() },
		"badger": func() storage.Store { return storage.NewBadgerStore(storage.BadgerConfig{InMemory: true}) },
	}
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			reg := param.NewRegistry()
			require.NoError(t, reg.Register(param.Definition{Name: "rate/m", Type: param.TypeFloat, Persist: true}))
			tree := composite.NewTree(reg, "reactor", composite.KindReactor)
			require.NoError(t, tree.Root().Params().Set("rate/m", param.Float(4.5)))

			db := openDB(t, newStore(), reg)
			require.NoError(t, db.WriteSnapshot(ctx, tree, 0, 0))

			var keys []model.SnapshotKey
			for k, err := range db.Snapshots(ctx) {
				require.NoError(t, err)
				keys = append(keys, k)
			}
			assert.Equal(t, []model.SnapshotKey{{}}, keys)

			loaded, err := db.LoadSnapshot(ctx, 0, 0, Parameters("rate/m"))
			require.NoError(t, err)
			assert.InDelta(t, 4.5, loaded.Root().Params().Float("rate/m"), 1e-12)
		})
	}
}

func TestRewrite(t *testing.T) {
	ctx := context.Background()
	reg := fullRegistry(t)
	tree := buildTree(t, reg)
	db := openDB(t, storage.NewMemoryStore(), reg)

	first, err := encodeTree(ctx, tree, model.SnapshotKey{Cycle: 1})
	require.NoError(t, err)
	second, err := encodeTree(ctx, tree.Clone(), model.SnapshotKey{Cycle: 1})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, db.WriteSnapshot(ctx, tree, 1, 0))
	unchanged := testutil.ToFloat64(snapshotWrites.WithLabelValues("unchanged"))
	require.NoError(t, db.WriteSnapshot(ctx, tree, 1, 0))
	assert.Equal(t, unchanged+1, testutil.ToFloat64(snapshotWrites.WithLabelValues("unchanged")))

	require.NoError(t, node(t, tree, "A101-fuel").Params().Set(reactor.ParamPower, param.Float(11)))
	assert.ErrorIs(t, db.WriteSnapshot(ctx, tree, 1, 0), ErrDuplicateSnapshot)

	loaded, err := db.LoadSnapshot(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 10.0, node(t, loaded, "A101-fuel").Params().Float(reactor.ParamPower))

	require.NoError(t, db.WriteSnapshot(ctx, tree, 1, 0, Force()))
	loaded, err = db.LoadSnapshot(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 11.0, node(t, loaded, "A101-fuel").Params().Float(reactor.ParamPower))
}

func TestWriteRejectsNaN(t *testing.T) {
	ctx := context.Background()
	reg := fullRegistry(t)
	tree := buildTree(t, reg)
	require.NoError(t, node(t, tree, "A101-fuel").Params().Set(reactor.ParamFlux, param.Float(math.NaN())))

	db := openDB(t, storage.NewMemoryStore(), reg)
	assert.Error(t, db.WriteSnapshot(ctx, tree, 0, 0))
	_, err := db.LoadSnapshot(ctx, 0, 0)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSnapshotsAscendingAndRestartable(t *testing.T) {
	ctx := context.Background()
	reg := fullRegistry(t)
	tree := composite.NewTree(reg, "reactor", composite.KindReactor)
	db := openDB(t, storage.NewMemoryStore(), reg)

	for _, k := range []model.SnapshotKey{{Cycle: 1}, {Cycle: 0, TimeNode: 1}, {Cycle: 0, TimeNode: 0}} {
		require.NoError(t, db.WriteSnapshot(ctx, tree, k.Cycle, k.TimeNode))
	}
	collect := func() []model.SnapshotKey {
		var keys []model.SnapshotKey
		for k, err := range db.Snapshots(ctx) {
			require.NoError(t, err)
			keys = append(keys, k)
		}
		return keys
	}
	assert.Equal(t, []model.SnapshotKey{{Cycle: 0}, {Cycle: 0, TimeNode: 1}, {Cycle: 1}}, collect())

	seq := db.Snapshots(ctx)
	require.NoError(t, db.WriteSnapshot(ctx, tree, 2, 0))
	var first model.SnapshotKey
	for k := range seq {
		first = k
		break
	}
	assert.Equal(t, model.SnapshotKey{}, first)
	assert.Len(t, collect(), 4)

	deleted, err := db.Delete(ctx, 0, 1)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, []model.SnapshotKey{{Cycle: 0}, {Cycle: 1}, {Cycle: 2}}, collect())
}

func TestLoadSubtree(t *testing.T) {
	ctx := context.Background()
	reg := fullRegistry(t)
	tree := buildTree(t, reg)
	require.NoError(t, tree.RollUpAll())
	db := openDB(t, storage.NewMemoryStore(), reg)
	require.NoError(t, db.WriteSnapshot(ctx, tree, 0, 0))

	core, err := db.LoadSnapshot(ctx, 0, 0, Subtree("core"))
	require.NoError(t, err)
	assert.Equal(t, "core", core.Root().Name())
	assert.Equal(t, composite.KindCore, core.Root().Kind())
	assert.Equal(t, 19, core.Root().NumChildren())
	assert.Equal(t, 190.0, core.Root().Params().Float(reactor.ParamPower))
	assert.Equal(t, node(t, tree, "core").ID(), core.Root().ID())

	assembly, err := db.LoadSnapshot(ctx, 0, 0, Subtree("A312"))
	require.NoError(t, err)
	assert.Equal(t, 2, assembly.Root().NumChildren())
	assert.False(t, assembly.Root().Locator().Placed)
	assert.Equal(t, 5, assembly.Len())
	fuel := node(t, assembly, "A312-fuel")
	assert.Equal(t, node(t, tree, "A312-fuel").Locator(), fuel.Locator())

	_, err = db.LoadSnapshot(ctx, 0, 0, Subtree("B999"))
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestLoadParameters(t *testing.T) {
	ctx := context.Background()
	reg := fullRegistry(t)
	tree := buildTree(t, reg)
	db := openDB(t, storage.NewMemoryStore(), reg)
	require.NoError(t, db.WriteSnapshot(ctx, tree, 0, 0))

	loaded, err := db.LoadSnapshot(ctx, 0, 0, Parameters(reactor.ParamPower))
	require.NoError(t, err)
	fuel := node(t, loaded, "A101-fuel")
	assert.Equal(t, 10.0, fuel.Params().Float(reactor.ParamPower))
	assert.False(t, fuel.Params().IsSet(reactor.ParamFlux))

	bare, err := db.LoadSnapshot(ctx, 0, 0, Parameters(), Subtree("A101"))
	require.NoError(t, err)
	for n := range bare.Nodes() {
		assert.Empty(t, n.Params().Names(), n.Name())
	}
}

func TestUnknownParameterPreserved(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	full := fullRegistry(t)
	tree := buildTree(t, full)
	require.NoError(t, node(t, tree, "core").Params().Set(xsLibrary, param.String("ENDF-B/VIII.0")))
	fullDB := openDB(t, store, full)
	require.NoError(t, fullDB.WriteSnapshot(ctx, tree, 0, 0))

	plain, err := reactor.NewRegistry()
	require.NoError(t, err)
	plainDB := openDB(t, store, plain)
	loaded, err := plainDB.LoadSnapshot(ctx, 0, 0)
	require.NoError(t, err)
	raw, ok := node(t, loaded, "core").Params().Raw(xsLibrary)
	require.True(t, ok)
	assert.Equal(t, "string", raw.Type)
	assert.JSONEq(t, `"ENDF-B/VIII.0"`, string(raw.Data))

	require.NoError(t, plainDB.WriteSnapshot(ctx, loaded, 0, 1))

	before, _, err := store.GetSnapshot(ctx, model.SnapshotKey{}, paramPrefix+xsLibrary)
	require.NoError(t, err)
	after, _, err := store.GetSnapshot(ctx, model.SnapshotKey{TimeNode: 1}, paramPrefix+xsLibrary)
	require.NoError(t, err)
	require.Len(t, after.Columns, 1)
	assert.Equal(t, before.Columns, after.Columns)

	again, err := fullDB.LoadSnapshot(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, "ENDF-B/VIII.0", node(t, again, "core").Params().String(xsLibrary))
	assert.True(t, tree.Equal(again))
}

func TestRawValueSupersedesTypedValueOnWrite(t *testing.T) {
	ctx := context.Background()
	reg := fullRegistry(t)
	tree := composite.NewTree(reg, "reactor", composite.KindReactor)
	root := tree.Root().Params()
	require.NoError(t, root.Set(reactor.ParamPower, param.Float(5)))
	root.SetRaw(reactor.ParamPower, param.Raw{Type: "int", Data: []byte("5")})

	rec, err := encodeTree(ctx, tree, model.SnapshotKey{})
	require.NoError(t, err)
	col, ok := rec.Column(paramPrefix + reactor.ParamPower)
	require.True(t, ok)
	var pc paramColumn
	require.NoError(t, storage.DecodeColumn(col, &pc))
	assert.Len(t, pc.Nodes, 1)

	db := openDB(t, storage.NewMemoryStore(), reg)
	require.NoError(t, db.WriteSnapshot(ctx, tree, 0, 0))
	loaded, err := db.LoadSnapshot(ctx, 0, 0)
	require.NoError(t, err)
	assert.False(t, loaded.Root().Params().IsSet(reactor.ParamPower))
	raw, ok := loaded.Root().Params().Raw(reactor.ParamPower)
	require.True(t, ok)
	assert.Equal(t, "int", raw.Type)
}

func TestDerivedValuesSurviveRoundTrip(t *testing.T) {
	ctx := context.Background()
	reg := fullRegistry(t)
	tree := buildTree(t, reg)
	require.NoError(t, tree.RollUpAll())
	db := openDB(t, storage.NewMemoryStore(), reg)
	require.NoError(t, db.WriteSnapshot(ctx, tree, 0, 0))

	loaded, err := db.LoadSnapshot(ctx, 0, 0)
	require.NoError(t, err)
	core, err := reactor.Core(loaded)
	require.NoError(t, err)
	assert.True(t, core.Params().IsDerived(reactor.ParamPower))
	assert.False(t, node(t, loaded, "A101-fuel").Params().IsDerived(reactor.ParamPower))

	for _, a := range slices.Collect(reactor.Assemblies(loaded)) {
		require.NoError(t, reactor.Discharge(a, 0))
	}
	require.NoError(t, loaded.Root().RollUp(reactor.ParamPower))
	assert.Equal(t, 0.0, core.Params().Float(reactor.ParamPower))
}

func TestRetypedParameterPreserved(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	asFloat, err := reactor.NewRegistry(param.Definition{Name: "doppler", Type: param.TypeFloat, Rule: param.RuleMean, Persist: true})
	require.NoError(t, err)
	asInt, err := reactor.NewRegistry(param.Definition{Name: "doppler", Type: param.TypeInt, Persist: true})
	require.NoError(t, err)

	tree := buildTree(t, asFloat)
	for b := range tree.Root().Descendants(composite.KindBlock) {
		if strings.HasSuffix(b.Name(), "-fuel") {
			require.NoError(t, b.Params().Set("doppler", param.Float(900)))
		}
	}
	floatDB := openDB(t, store, asFloat)
	intDB := openDB(t, store, asInt)
	require.NoError(t, floatDB.WriteSnapshot(ctx, tree, 0, 0))

	loaded, err := intDB.LoadSnapshot(ctx, 0, 0)
	require.NoError(t, err)
	fuel := node(t, loaded, "A101-fuel")
	assert.False(t, fuel.Params().IsSet("doppler"))
	raw, ok := fuel.Params().Raw("doppler")
	require.True(t, ok)
	assert.Equal(t, param.Raw{Type: "float", Data: []byte("900")}, raw)

	require.NoError(t, fuel.Params().Set("doppler", param.Int(3)))
	require.NoError(t, intDB.WriteSnapshot(ctx, loaded, 0, 1))

	mixed, err := intDB.LoadSnapshot(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), node(t, mixed, "A101-fuel").Params().Int("doppler"))
	_, ok = node(t, mixed, "A201-fuel").Params().Raw("doppler")
	assert.True(t, ok)

	back, err := floatDB.LoadSnapshot(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 900.0, node(t, back, "A201-fuel").Params().Float("doppler"))
	raw, ok = node(t, back, "A101-fuel").Params().Raw("doppler")
	require.True(t, ok)
	assert.Equal(t, "int", raw.Type)
}

func TestLoadSchemaV1(t *testing.T) {
	ctx := context.Background()
	reg := fullRegistry(t)
	tree := buildTree(t, reg)
	require.NoError(t, tree.RollUpAll())

	rec, err := encodeTree(ctx, tree, model.SnapshotKey{Cycle: 3})
	require.NoError(t, err)
	rec.SchemaVersion = 1
	rec.Columns = slices.DeleteFunc(rec.Columns, func(c model.Column) bool {
		return c.Name == colPlaced || c.Name == colRetained
	})

	store := storage.NewMemoryStore()
	db := openDB(t, store, reg)
	require.NoError(t, store.SaveSnapshot(ctx, rec, false))

	loaded, err := db.LoadSnapshot(ctx, 3, 0)
	require.NoError(t, err)
	assert.True(t, tree.Equal(loaded))
	assert.False(t, node(t, loaded, "fuel").Locator().Placed)
	assert.True(t, node(t, loaded, "A101").Locator().Placed)

	require.NoError(t, db.WriteSnapshot(ctx, loaded, 3, 1))
	info, err := db.Info(ctx, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, storage.CurrentSchemaVersion, info.SchemaVersion)
}

func TestLoadRejectsCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	reg := fullRegistry(t)
	tree := buildTree(t, reg)
	rec, err := encodeTree(ctx, tree, model.SnapshotKey{})
	require.NoError(t, err)
	rec.Columns = slices.DeleteFunc(rec.Columns, func(c model.Column) bool { return c.Name == colKind })

	store := storage.NewMemoryStore()
	db := openDB(t, store, reg)
	require.NoError(t, store.SaveSnapshot(ctx, rec, false))
	_, err = db.LoadSnapshot(ctx, 0, 0)
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestSnapshotIsCompressed(t *testing.T) {
	ctx := context.Background()
	reg := fullRegistry(t)
	tree := buildTree(t, reg)
	db := openDB(t, storage.NewMemoryStore(), reg)
	require.NoError(t, db.WriteSnapshot(ctx, tree, 0, 0))

	info, err := db.Info(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, tree.Len(), info.Nodes)
	assert.Equal(t, []string{reactor.ParamFlux, reactor.ParamPower}, info.Parameters)
	assert.Equal(t, tree.Lineage().String(), info.Lineage)
	assert.Less(t, info.EncodedSize, info.RawSize)
}

func TestClosedDatabase(t *testing.T) {
	ctx := context.Background()
	reg := fullRegistry(t)
	tree := composite.NewTree(reg, "reactor", composite.KindReactor)
	db, err := Open(ctx, storage.NewMemoryStore(), reg)
	require.NoError(t, err)
	require.NoError(t, db.WriteSnapshot(ctx, tree, 0, 0))

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	assert.ErrorIs(t, db.WriteSnapshot(ctx, tree, 0, 1), ErrStoreClosed)
	_, err = db.LoadSnapshot(ctx, 0, 0)
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = db.Delete(ctx, 0, 0)
	assert.ErrorIs(t, err, ErrStoreClosed)
	for _, err := range db.Snapshots(ctx) {
		assert.ErrorIs(t, err, ErrStoreClosed)
	}
}

func TestOpenRequiresStoreAndRegistry(t *testing.T) {
	_, err := Open(context.Background(), nil, param.NewRegistry())
	assert.Error(t, err)
	_, err = Open(context.Background(), storage.NewMemoryStore(), nil)
	assert.Error(t, err)
}
