package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreMemory(t *testing.T) {
	store, err := NewStore("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)
}

func TestNewStoreBadger(t *testing.T) {
	store, err := NewStore("badger", "", WithSyncWrites(false))
	require.NoError(t, err)
	badgerStore, ok := store.(*BadgerStore)
	require.True(t, ok)
	assert.True(t, badgerStore.cfg.InMemory)
}

func TestNewStoreUnsupported(t *testing.T) {
	_, err := NewStore("unknown", "")
	assert.Error(t, err)
}

func TestCloseIfSupported(t *testing.T) {
	assert.NoError(t, CloseIfSupported(nil))
	assert.NoError(t, CloseIfSupported(NewMemoryStore()))
}
