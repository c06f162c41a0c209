package storage

import (
	"fmt"
	"log/slog"
)

const DefaultStoreKind = "memory"

type options struct {
	logger     *slog.Logger
	syncWrites bool
}

type Option func(*options)

// WithLogger routes backend log output to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithSyncWrites(sync bool) Option {
	return func(o *options) { o.syncWrites = sync }
}

// NewStore builds an uninitialized store of the given kind. A badger store
// without a path runs in memory.
func NewStore(kind, path string, opts ...Option) (Store, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	switch kind {
	case "", DefaultStoreKind:
		return NewMemoryStore(), nil
	case "sqlite":
		return newSQLiteStore(path)
	case "badger":
		return NewBadgerStore(BadgerConfig{
			Path:       path,
			InMemory:   path == "",
			SyncWrites: o.syncWrites,
			Logger:     o.logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	if store == nil {
		return nil
	}
	return store.Close()
}
