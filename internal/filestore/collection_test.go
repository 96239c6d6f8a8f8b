package filestore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollection_PutGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coll.json")
	c := NewCollection[string, int](CollectionConfig{FilePath: path})

	require.NoError(t, c.Put("a", 1))
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	require.NoError(t, c.Delete("a"))
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestCollection_PersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coll.json")
	c := NewCollection[string, int](CollectionConfig{FilePath: path})
	require.NoError(t, c.Put("a", 1))
	require.NoError(t, c.Put("b", 2))

	reloaded := NewCollection[string, int](CollectionConfig{FilePath: path})
	require.NoError(t, reloaded.Load())
	assert.Equal(t, 2, reloaded.Len())
	v, ok := reloaded.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestCollection_MutateWithRollbackRestoresOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coll.json")
	c := NewCollection[string, int](CollectionConfig{FilePath: path})
	require.NoError(t, c.Put("a", 1))

	err := c.MutateWithRollback(func(items map[string]int) error {
		items["a"] = 99
		items["b"] = 2
		return errors.New("boom")
	})
	require.Error(t, err)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestCollection_SnapshotIsACopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coll.json")
	c := NewCollection[string, int](CollectionConfig{FilePath: path})
	require.NoError(t, c.Put("a", 1))

	snap := c.Snapshot()
	snap["a"] = 999
	v, _ := c.Get("a")
	assert.Equal(t, 1, v)
}

func TestCollection_InMemoryOnlyWhenNoFilePath(t *testing.T) {
	c := NewCollection[string, int](CollectionConfig{})
	require.NoError(t, c.Put("a", 1))
	require.NoError(t, c.Load())
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}
