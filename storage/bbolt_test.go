package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bitstable.db")
	store, err := Open(path, &bolt.Options{Timeout: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenCreatesAllTrees(t *testing.T) {
	store := openTestStore(t)
	for _, tree := range allTrees {
		require.NoError(t, store.db.View(func(tx *bolt.Tx) error {
			require.NotNil(t, tx.Bucket(tree))
			return nil
		}))
	}
}

func TestPutGetRoundTrips(t *testing.T) {
	store := openTestStore(t)

	type record struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	require.NoError(t, store.Put(TreeConfig, "k1", record{Name: "alpha", Value: 7}))

	var out record
	require.NoError(t, store.Get(TreeConfig, "k1", &out))
	require.Equal(t, record{Name: "alpha", Value: 7}, out)
}

func TestGetMissingKeyReturnsErrNotFound(t *testing.T) {
	store := openTestStore(t)

	var out map[string]any
	err := store.Get(TreeConfig, "missing", &out)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesKey(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Put(TreeVaults, "v1", map[string]int{"x": 1}))
	require.NoError(t, store.Delete(TreeVaults, "v1"))

	var out map[string]int
	require.ErrorIs(t, store.Get(TreeVaults, "v1", &out), ErrNotFound)
}

func TestForEachIteratesAllEntries(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Put(TreeOraclePrices, "a", 1))
	require.NoError(t, store.Put(TreeOraclePrices, "b", 2))

	seen := map[string]bool{}
	require.NoError(t, store.ForEach(TreeOraclePrices, func(key string, _ []byte) error {
		seen[key] = true
		return nil
	}))
	require.True(t, seen["a"])
	require.True(t, seen["b"])
}

func TestSnapshotCollectsEveryTree(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Put(TreeVaults, "v1", map[string]int{"x": 1}))
	require.NoError(t, store.Put(TreeLiquidations, "l1", map[string]int{"y": 2}))

	now := time.Unix(1_700_000_000, 0).UTC()
	backup, err := store.Snapshot(now)
	require.NoError(t, err)
	require.Equal(t, now, backup.Timestamp)
	require.Contains(t, backup.Vaults, "v1")
	require.Contains(t, backup.Liquidations, "l1")
}
