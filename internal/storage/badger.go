package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"reactorstate/internal/model"
)

// BadgerConfig configures the embedded key/value backend.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	// Logger receives badger's own log output. Nil silences it.
	Logger *slog.Logger
}

// BadgerStore keeps each snapshot as a manifest key plus one key per
// column, so partial loads only read the columns they ask for:
//
//	snapm/<cycle>/<time node>         manifest (JSON)
//	snapc/<cycle>/<time node>/<name>  column data
//
// Cycle and time node are zero padded so key order is snapshot order.
type BadgerStore struct {
	lifecycle
	cfg BadgerConfig
	db  *badger.DB
}

func NewBadgerStore(cfg BadgerConfig) *BadgerStore {
	return &BadgerStore{cfg: cfg}
}

const (
	manifestPrefix = "snapm/"
	columnPrefix   = "snapc/"
)

func keyPath(key model.SnapshotKey) string {
	return fmt.Sprintf("%010d/%010d", key.Cycle, key.TimeNode)
}

func manifestKey(key model.SnapshotKey) []byte {
	return []byte(manifestPrefix + keyPath(key))
}

func columnKey(key model.SnapshotKey, name string) []byte {
	return []byte(columnPrefix + keyPath(key) + "/" + name)
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (s *BadgerStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateOpen:
		return nil
	case stateClosed:
		return ErrStoreClosed
	}
	if !s.cfg.InMemory && s.cfg.Path == "" {
		return errors.New("badger path is required")
	}

	var opts badger.Options
	if s.cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(s.cfg.Path, 0o750); err != nil {
			return fmt.Errorf("create database directory %s: %w", s.cfg.Path, err)
		}
		opts = badger.DefaultOptions(s.cfg.Path)
	}
	opts = opts.WithSyncWrites(s.cfg.SyncWrites).WithNumVersionsToKeep(1)
	if s.cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: s.cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("open badger database: %w", err)
	}
	s.db = db
	s.state = stateOpen
	return nil
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = stateClosed
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *BadgerStore) getDB() (*badger.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.usable(); err != nil {
		return nil, err
	}
	return s.db, nil
}

func (s *BadgerStore) SaveSnapshot(ctx context.Context, rec model.SnapshotRecord, overwrite bool) error {
	if err := validateKey(rec.Key); err != nil {
		return err
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeManifest(manifestOf(rec))
	if err != nil {
		return err
	}

	return db.Update(func(txn *badger.Txn) error {
		old, found, err := readManifest(txn, rec.Key)
		if err != nil {
			return err
		}
		if found {
			if !overwrite {
				return ErrDuplicateSnapshot
			}
			if err := deleteSnapshotKeys(txn, old); err != nil {
				return err
			}
		}
		if err := txn.Set(manifestKey(rec.Key), data); err != nil {
			return err
		}
		for _, col := range rec.Columns {
			if err := txn.Set(columnKey(rec.Key, col.Name), col.Data); err != nil {
				return fmt.Errorf("write column %s: %w", col.Name, err)
			}
		}
		return nil
	})
}

func (s *BadgerStore) GetSnapshot(ctx context.Context, key model.SnapshotKey, columns ...string) (model.SnapshotRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.SnapshotRecord{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return model.SnapshotRecord{}, false, err
	}

	var (
		rec   model.SnapshotRecord
		found bool
	)
	err = db.View(func(txn *badger.Txn) error {
		m, ok, err := readManifest(txn, key)
		if err != nil || !ok {
			return err
		}
		found = true
		rec = model.SnapshotRecord{VersionedRecord: m.VersionedRecord, Key: m.Key, Lineage: m.Lineage}
		want := wantColumns(columns)
		for _, info := range m.Columns {
			if want != nil && !want[info.Name] {
				continue
			}
			item, err := txn.Get(columnKey(key, info.Name))
			if err != nil {
				return fmt.Errorf("read column %s: %w", info.Name, err)
			}
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rec.Columns = append(rec.Columns, model.Column{
				Name:     info.Name,
				Encoding: info.Encoding,
				RawSize:  info.RawSize,
				Data:     data,
			})
		}
		return nil
	})
	if err != nil {
		return model.SnapshotRecord{}, false, fmt.Errorf("snapshot %s: %w", key, err)
	}
	return rec, found, nil
}

func (s *BadgerStore) ListSnapshots(ctx context.Context) ([]model.SnapshotKey, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []model.SnapshotKey
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(manifestPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			k := string(it.Item().Key())
			var key model.SnapshotKey
			if _, err := fmt.Sscanf(strings.TrimPrefix(k, manifestPrefix), "%d/%d", &key.Cycle, &key.TimeNode); err != nil {
				return fmt.Errorf("malformed snapshot key %q: %w", k, err)
			}
			keys = append(keys, key)
		}
		return nil
	})
	return keys, err
}

func (s *BadgerStore) DeleteSnapshot(ctx context.Context, key model.SnapshotKey) (bool, error) {
	db, err := s.getDB()
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var found bool
	err = db.Update(func(txn *badger.Txn) error {
		m, ok, err := readManifest(txn, key)
		if err != nil || !ok {
			return err
		}
		found = true
		return deleteSnapshotKeys(txn, m)
	})
	return found, err
}

func readManifest(txn *badger.Txn, key model.SnapshotKey) (manifest, bool, error) {
	item, err := txn.Get(manifestKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return manifest{}, false, nil
	}
	if err != nil {
		return manifest{}, false, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return manifest{}, false, err
	}
	m, err := decodeManifest(data)
	if err != nil {
		return manifest{}, false, err
	}
	return m, true, nil
}

func deleteSnapshotKeys(txn *badger.Txn, m manifest) error {
	for _, info := range m.Columns {
		if err := txn.Delete(columnKey(m.Key, info.Name)); err != nil {
			return err
		}
	}
	return txn.Delete(manifestKey(m.Key))
}
