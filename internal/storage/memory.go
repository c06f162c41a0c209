package storage

import (
	"context"
	"maps"
	"slices"

	"reactorstate/internal/model"
)

// MemoryStore keeps records in process memory. It is the default backend
// and the one tests run against.
type MemoryStore struct {
	lifecycle
	snapshots map[model.SnapshotKey]model.SnapshotRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateOpen:
		return nil
	case stateClosed:
		return ErrStoreClosed
	}
	s.snapshots = make(map[model.SnapshotKey]model.SnapshotRecord)
	s.state = stateOpen
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateOpen {
		s.snapshots = nil
	}
	s.state = stateClosed
	return nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, rec model.SnapshotRecord, overwrite bool) error {
	if err := validateKey(rec.Key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}
	if _, exists := s.snapshots[rec.Key]; exists && !overwrite {
		return ErrDuplicateSnapshot
	}
	s.snapshots[rec.Key] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, key model.SnapshotKey, columns ...string) (model.SnapshotRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.usable(); err != nil {
		return model.SnapshotRecord{}, false, err
	}
	rec, ok := s.snapshots[key]
	if !ok {
		return model.SnapshotRecord{}, false, nil
	}
	if err := CheckVersion(rec.VersionedRecord); err != nil {
		return model.SnapshotRecord{}, false, err
	}
	out := cloneRecord(rec)
	if want := wantColumns(columns); want != nil {
		out.Columns = slices.DeleteFunc(out.Columns, func(c model.Column) bool { return !want[c.Name] })
	}
	return out, true, nil
}

func (s *MemoryStore) ListSnapshots(_ context.Context) ([]model.SnapshotKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.usable(); err != nil {
		return nil, err
	}
	return slices.SortedFunc(maps.Keys(s.snapshots), model.SnapshotKey.Compare), nil
}

func (s *MemoryStore) DeleteSnapshot(_ context.Context, key model.SnapshotKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return false, err
	}
	_, ok := s.snapshots[key]
	delete(s.snapshots, key)
	return ok, nil
}
