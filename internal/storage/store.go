package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"reactorstate/internal/model"
)

var (
	ErrStoreNotOpen      = errors.New("store is not initialized")
	ErrStoreClosed       = errors.New("store is closed")
	ErrDuplicateSnapshot = errors.New("snapshot already exists")
	ErrInvalidKey        = errors.New("invalid snapshot key")
)

// Store persists snapshot records. A store moves from uninitialized to open
// on Init and to closed on Close; every other call is only valid while it
// is open. Closing twice is a no-op.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	// SaveSnapshot writes rec. Unless overwrite is set, an existing record
	// under the same key fails with ErrDuplicateSnapshot.
	SaveSnapshot(ctx context.Context, rec model.SnapshotRecord, overwrite bool) error
	// GetSnapshot loads the record at key with the named columns, or with
	// every column when none are named.
	GetSnapshot(ctx context.Context, key model.SnapshotKey, columns ...string) (model.SnapshotRecord, bool, error)
	// ListSnapshots returns every stored key in ascending order.
	ListSnapshots(ctx context.Context) ([]model.SnapshotKey, error)
	DeleteSnapshot(ctx context.Context, key model.SnapshotKey) (bool, error)
}

type storeState int

const (
	stateUninitialized storeState = iota
	stateOpen
	stateClosed
)

// lifecycle is the open/closed state shared by the backends.
type lifecycle struct {
	mu    sync.RWMutex
	state storeState
}

// usable reports the error for calls made outside the open state. Callers
// hold mu.
func (l *lifecycle) usable() error {
	switch l.state {
	case stateUninitialized:
		return ErrStoreNotOpen
	case stateClosed:
		return ErrStoreClosed
	default:
		return nil
	}
}

// MaxKeyComponent bounds cycle and time node so every backend can order
// keys by their text form.
const MaxKeyComponent = 1<<31 - 1

func validateKey(key model.SnapshotKey) error {
	if key.Cycle < 0 || key.TimeNode < 0 || key.Cycle > MaxKeyComponent || key.TimeNode > MaxKeyComponent {
		return fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	return nil
}

// wantColumns turns an optional column list into a lookup set. A nil set
// selects everything.
func wantColumns(columns []string) map[string]bool {
	if len(columns) == 0 {
		return nil
	}
	set := make(map[string]bool, len(columns))
	for _, c := range columns {
		set[c] = true
	}
	return set
}
