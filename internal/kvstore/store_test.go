package kvstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cycleStateFixture struct {
	CycleCount int    `json:"cycleCount"`
	LastSignal string `json:"lastSignal"`
}

func TestStore_GetMissingKey(t *testing.T) {
	store, err := Open(Config{FilePath: filepath.Join(t.TempDir(), "kv.json")})
	require.NoError(t, err)

	var dst cycleStateFixture
	found, err := store.Get("agentloop:cycle_state", &dst)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_SetShallowMergesAndStampsUpdatedAt(t *testing.T) {
	store, err := Open(Config{FilePath: filepath.Join(t.TempDir(), "kv.json")})
	require.NoError(t, err)

	require.NoError(t, store.Set("goal:abc", map[string]any{"title": "ship v1", "progress": 10}))
	require.NoError(t, store.Set("goal:abc", map[string]any{"progress": 50}))

	var dst map[string]any
	found, err := store.Get("goal:abc", &dst)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "ship v1", dst["title"])
	assert.EqualValues(t, 50, dst["progress"])
	assert.NotEmpty(t, dst["updatedAt"])
}

func TestStore_UpdateField(t *testing.T) {
	store, err := Open(Config{FilePath: filepath.Join(t.TempDir(), "kv.json")})
	require.NoError(t, err)

	require.NoError(t, store.UpdateField("cron:daily", "consecutiveErrors", 0))
	require.NoError(t, store.UpdateField("cron:daily", "consecutiveErrors", 3))

	var dst map[string]any
	_, err = store.Get("cron:daily", &dst)
	require.NoError(t, err)
	assert.EqualValues(t, 3, dst["consecutiveErrors"])
}

func TestStore_IncrementDefaultsToOne(t *testing.T) {
	store, err := Open(Config{FilePath: filepath.Join(t.TempDir(), "kv.json")})
	require.NoError(t, err)

	v, err := store.Increment("agentloop:cycle_state", "cycleCount", 0)
	require.NoError(t, err)
	assert.Equal(t, float64(1), v)

	v, err = store.Increment("agentloop:cycle_state", "cycleCount", 0)
	require.NoError(t, err)
	assert.Equal(t, float64(2), v)
}

func TestStore_IncrementWithExplicitDelta(t *testing.T) {
	store, err := Open(Config{FilePath: filepath.Join(t.TempDir(), "kv.json")})
	require.NoError(t, err)

	v, err := store.Increment("cost:today", "dailyCost", 0.25)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, v, 0.0001)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.json")
	store, err := Open(Config{FilePath: path})
	require.NoError(t, err)
	require.NoError(t, store.Set("goal:xyz", map[string]any{"title": "persisted"}))

	reopened, err := Open(Config{FilePath: path})
	require.NoError(t, err)
	var dst map[string]any
	found, err := reopened.Get("goal:xyz", &dst)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "persisted", dst["title"])
}
