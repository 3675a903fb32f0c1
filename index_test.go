package debtcache_test

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/stretchr/testify/require"

	"github.com/debtmap/debtcache"
)

func newTestIndex(t *testing.T) (*debtcache.IndexManager, *debtcache.CacheLocation) {
	t.Helper()
	loc, err := debtcache.ResolveCustomLocation("", t.TempDir())
	require.NoError(t, err)
	index, err := debtcache.LoadIndex(loc, "1.0.0")
	require.NoError(t, err)
	return index, loc
}

func TestIndexAddAndStats(t *testing.T) {
	index, _ := newTestIndex(t)

	index.AddEntry("key1", testMetadata(100, time.Now()))
	index.AddEntry("key2", testMetadata(50, time.Now()))

	stats := index.Stats()
	require.Equal(t, 2, stats.EntryCount)
	require.Equal(t, int64(150), stats.TotalSize)
	require.True(t, index.Contains("key1"))
	require.False(t, index.Contains("key3"))
}

func TestIndexReplaceAdjustsTotal(t *testing.T) {
	index, _ := newTestIndex(t)

	index.AddEntry("key1", testMetadata(100, time.Now()))
	index.AddEntry("key1", testMetadata(30, time.Now()))

	stats := index.Stats()
	require.Equal(t, 1, stats.EntryCount)
	require.Equal(t, int64(30), stats.TotalSize)
}

func TestIndexRemoveEntries(t *testing.T) {
	index, _ := newTestIndex(t)

	index.AddEntry("key1", testMetadata(100, time.Now()))
	index.AddEntry("key2", testMetadata(50, time.Now()))
	index.AddEntry("key3", testMetadata(25, time.Now()))

	removed, freed := index.RemoveEntries([]string{"key1", "key3", "missing"})
	require.Equal(t, 2, removed)
	require.Equal(t, int64(125), freed)

	stats := index.Stats()
	require.Equal(t, 1, stats.EntryCount)
	require.Equal(t, int64(50), stats.TotalSize)
}

func TestIndexTouch(t *testing.T) {
	index, _ := newTestIndex(t)

	accessed := time.Now().Add(-time.Hour)
	index.AddEntry("key1", testMetadata(10, accessed))

	require.True(t, index.Touch("key1"))
	require.False(t, index.Touch("missing"))

	md := index.Snapshot().Entries["key1"]
	require.Equal(t, int64(2), md.AccessCount)
	require.True(t, md.LastAccessed.After(accessed))
}

func TestIndexSortedEntries(t *testing.T) {
	index, _ := newTestIndex(t)

	now := time.Now()
	index.AddEntry("newest", testMetadata(10, now))
	index.AddEntry("oldest", testMetadata(10, now.Add(-2*time.Hour)))
	index.AddEntry("middle", testMetadata(10, now.Add(-time.Hour)))

	entries, total := index.SortedEntries()
	require.Equal(t, int64(30), total)
	require.Equal(t, []string{"oldest", "middle", "newest"},
		[]string{entries[0].Key, entries[1].Key, entries[2].Key})
}

func TestIndexTotalSizeExceeds(t *testing.T) {
	index, _ := newTestIndex(t)
	index.AddEntry("key1", testMetadata(100, time.Now()))

	require.True(t, index.TotalSizeExceeds(99))
	require.False(t, index.TotalSizeExceeds(100))
}

func TestIndexSnapshotIsACopy(t *testing.T) {
	index, _ := newTestIndex(t)
	index.AddEntry("key1", testMetadata(10, time.Now()))

	snap := index.Snapshot()
	delete(snap.Entries, "key1")

	require.True(t, index.Contains("key1"), "mutating a snapshot must not touch the index")
}

func TestIndexSaveAndReload(t *testing.T) {
	index, loc := newTestIndex(t)

	created := time.Now().Add(-time.Hour).Truncate(time.Second)
	index.AddEntry("key1", testMetadata(123, created))
	index.MarkCleanup(time.Now().Truncate(time.Second))
	require.NoError(t, index.Save(loc))

	reloaded, err := debtcache.LoadIndex(loc, "1.0.0")
	require.NoError(t, err)

	stats := reloaded.Stats()
	require.Equal(t, 1, stats.EntryCount)
	require.Equal(t, int64(123), stats.TotalSize)

	md := reloaded.Snapshot().Entries["key1"]
	require.Equal(t, int64(123), md.SizeBytes)
	require.True(t, md.LastAccessed.Equal(created))
	require.False(t, reloaded.Snapshot().LastCleanup.IsZero())
}

func TestIndexSaveSkipsWhenClean(t *testing.T) {
	index, loc := newTestIndex(t)
	index.AddEntry("key1", testMetadata(10, time.Now()))
	require.NoError(t, index.Save(loc))

	// A clean index does not rewrite the file.
	require.NoError(t, os.Remove(loc.IndexPath()))
	require.NoError(t, index.Save(loc))
	require.NoFileExists(t, loc.IndexPath())

	// The next mutation makes it dirty again.
	index.Touch("key1")
	require.NoError(t, index.Save(loc))
	require.FileExists(t, loc.IndexPath())
}

func TestIndexSaveWithConcurrentWriter(t *testing.T) {
	index, loc := newTestIndex(t)
	index.AddEntry("seed", testMetadata(1, time.Now()))
	require.NoError(t, index.Save(loc))

	// A save flushing unrelated changes races a writer adding a key.
	// Whatever the interleaving, the writer's save must not return
	// before its key is on disk.
	for i := range 200 {
		key := fmt.Sprintf("key-%03d", i)

		p := pool.New().WithErrors()
		p.Go(func() error {
			index.Touch("seed")
			return index.Save(loc)
		})
		p.Go(func() error {
			index.AddEntry(key, testMetadata(1, time.Now()))
			return index.Save(loc)
		})
		require.NoError(t, p.Wait())

		reloaded, err := debtcache.LoadIndex(loc, "1.0.0")
		require.NoError(t, err)
		require.True(t, reloaded.Contains(key), "key %s not persisted", key)
	}
}

func TestIndexVersionMismatch(t *testing.T) {
	index, loc := newTestIndex(t)
	require.False(t, index.CheckVersionMismatch("1.0.0"))
	require.True(t, index.CheckVersionMismatch("2.0.0"))

	index.Clear("2.0.0")
	require.False(t, index.CheckVersionMismatch("2.0.0"))

	// The re-stamped version survives a save/load cycle.
	index.AddEntry("key1", testMetadata(10, time.Now()))
	require.NoError(t, index.Save(loc))
	reloaded, err := debtcache.LoadIndex(loc, "2.0.0")
	require.NoError(t, err)
	require.False(t, reloaded.CheckVersionMismatch("2.0.0"))
}

func TestIndexCorruptFileStartsFresh(t *testing.T) {
	index, loc := newTestIndex(t)
	index.AddEntry("key1", testMetadata(10, time.Now()))
	require.NoError(t, index.Save(loc))

	require.NoError(t, os.WriteFile(loc.IndexPath(), []byte("{not json"), 0o644))

	reloaded, err := debtcache.LoadIndex(loc, "1.0.0")
	require.NoError(t, err)
	require.Equal(t, 0, reloaded.Stats().EntryCount)
	require.False(t, reloaded.CheckVersionMismatch("1.0.0"))
}
