//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"reactorstate/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	lifecycle
	path string
	db   *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateOpen:
		return nil
	case stateClosed:
		return ErrStoreClosed
	}
	if s.path == "" {
		return errors.New("sqlite path is required")
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	s.state = stateOpen
	return nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, rec model.SnapshotRecord, overwrite bool) error {
	if err := validateKey(rec.Key); err != nil {
		return err
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots WHERE cycle = ? AND time_node = ?`,
		rec.Key.Cycle, rec.Key.TimeNode).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		if !overwrite {
			return ErrDuplicateSnapshot
		}
		if _, err := deleteSnapshotRows(ctx, tx, rec.Key); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (cycle, time_node, schema_version, codec_version, lineage)
		VALUES (?, ?, ?, ?, ?)
	`, rec.Key.Cycle, rec.Key.TimeNode, rec.SchemaVersion, rec.CodecVersion, rec.Lineage)
	if err != nil {
		return err
	}
	for i, col := range rec.Columns {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO snapshot_columns (cycle, time_node, ordinal, name, encoding, raw_size, data)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, rec.Key.Cycle, rec.Key.TimeNode, i, col.Name, col.Encoding, col.RawSize, col.Data)
		if err != nil {
			return fmt.Errorf("insert column %s: %w", col.Name, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, key model.SnapshotKey, columns ...string) (model.SnapshotRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.SnapshotRecord{}, false, err
	}

	rec := model.SnapshotRecord{Key: key}
	err = db.QueryRowContext(ctx, `
		SELECT schema_version, codec_version, lineage FROM snapshots WHERE cycle = ? AND time_node = ?
	`, key.Cycle, key.TimeNode).Scan(&rec.SchemaVersion, &rec.CodecVersion, &rec.Lineage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SnapshotRecord{}, false, nil
		}
		return model.SnapshotRecord{}, false, err
	}
	if err := CheckVersion(rec.VersionedRecord); err != nil {
		return model.SnapshotRecord{}, false, fmt.Errorf("snapshot %s: %w", key, err)
	}

	query := `SELECT name, encoding, raw_size, data FROM snapshot_columns WHERE cycle = ? AND time_node = ?`
	args := []any{key.Cycle, key.TimeNode}
	if len(columns) > 0 {
		query += ` AND name IN (?` + strings.Repeat(`, ?`, len(columns)-1) + `)`
		for _, c := range columns {
			args = append(args, c)
		}
	}
	query += ` ORDER BY ordinal`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return model.SnapshotRecord{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var col model.Column
		if err := rows.Scan(&col.Name, &col.Encoding, &col.RawSize, &col.Data); err != nil {
			return model.SnapshotRecord{}, false, err
		}
		rec.Columns = append(rec.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return model.SnapshotRecord{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context) ([]model.SnapshotKey, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT cycle, time_node FROM snapshots ORDER BY cycle, time_node`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []model.SnapshotKey
	for rows.Next() {
		var k model.SnapshotKey
		if err := rows.Scan(&k.Cycle, &k.TimeNode); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, key model.SnapshotKey) (bool, error) {
	db, err := s.getDB()
	if err != nil {
		return false, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	deleted, err := deleteSnapshotRows(ctx, tx, key)
	if err != nil {
		return false, err
	}
	return deleted, tx.Commit()
}

func (s *SQLiteStore) Close() error {
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

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.usable(); err != nil {
		return nil, err
	}
	return s.db, nil
}

func deleteSnapshotRows(ctx context.Context, tx *sql.Tx, key model.SnapshotKey) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE cycle = ? AND time_node = ?`, key.Cycle, key.TimeNode)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM snapshot_columns WHERE cycle = ? AND time_node = ?`, key.Cycle, key.TimeNode)
	return n > 0, err
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS snapshots (
			cycle INTEGER NOT NULL,
			time_node INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			lineage TEXT NOT NULL,
			PRIMARY KEY (cycle, time_node)
		);
		CREATE TABLE IF NOT EXISTS snapshot_columns (
			cycle INTEGER NOT NULL,
			time_node INTEGER NOT NULL,
			ordinal INTEGER NOT NULL,
			name TEXT NOT NULL,
			encoding TEXT NOT NULL,
			raw_size INTEGER NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (cycle, time_node, name)
		);
	`)
	return err
}
