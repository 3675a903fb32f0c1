package debtcache_test

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/debtmap/debtcache"
)

func testMetadata(size int64, lastAccessed time.Time) debtcache.CacheMetadata {
	return debtcache.CacheMetadata{
		Version:      "1.0.0",
		CreatedAt:    lastAccessed,
		LastAccessed: lastAccessed,
		AccessCount:  1,
		SizeBytes:    size,
		ToolVersion:  "1.0.0",
	}
}

func TestCleanupEvictsOldestFirst(t *testing.T) {
	cache := newTestCache(t, debtcache.WithoutPruning(), debtcache.WithMaxCacheSize(50))

	// Three entries totaling 45 bytes against a 25 byte cleanup target:
	// only the oldest fits above the line.
	base := time.Now().Add(-3 * time.Hour)
	cache.Index().AddEntry("old", testMetadata(20, base))
	cache.Index().AddEntry("mid", testMetadata(15, base.Add(time.Hour)))
	cache.Index().AddEntry("new", testMetadata(10, base.Add(2*time.Hour)))

	require.NoError(t, cache.Cleanup())

	stats := cache.Stats()
	require.Equal(t, 2, stats.EntryCount)
	require.Equal(t, int64(25), stats.TotalSize)
	require.False(t, cache.Index().Contains("old"))
	require.True(t, cache.Index().Contains("mid"))
	require.True(t, cache.Index().Contains("new"))

	require.False(t, cache.Index().Snapshot().LastCleanup.IsZero())
}

func TestCleanupEmptyCache(t *testing.T) {
	cache := newTestCache(t, debtcache.WithoutPruning())
	require.NoError(t, cache.Cleanup())
	require.Equal(t, 0, cache.Stats().EntryCount)
}

func TestCleanupRemovesFilesAcrossComponents(t *testing.T) {
	cache := newTestCache(t, debtcache.WithoutPruning(), debtcache.WithMaxCacheSize(10))

	require.NoError(t, cache.Put("abc123", "analysis", []byte("analysis")))
	require.NoError(t, cache.Put("abc123", "call_graphs", []byte("graph")))

	// Force the entry over the cleanup line and run it.
	cache.Index().AddEntry("abc123", testMetadata(100, time.Now().Add(-time.Hour)))
	require.NoError(t, cache.Cleanup())

	require.False(t, cache.Exists("abc123", "analysis"))
	require.False(t, cache.Exists("abc123", "call_graphs"))
	require.Equal(t, 0, cache.Stats().EntryCount)
}

func TestCleanupToleratesMissingFiles(t *testing.T) {
	cache := newTestCache(t, debtcache.WithoutPruning(), debtcache.WithMaxCacheSize(10))

	// Indexed but never written, as if another process already deleted it.
	cache.Index().AddEntry("ghost", testMetadata(100, time.Now().Add(-time.Hour)))

	require.NoError(t, cache.Cleanup())
	require.Equal(t, 0, cache.Stats().EntryCount)
}

func TestPutTriggersCleanupPastThreshold(t *testing.T) {
	cache := newTestCache(t, debtcache.WithoutPruning(), debtcache.WithMaxCacheSize(100))

	require.NoError(t, cache.Put("seed", "analysis", []byte("0123456789")))
	// Pad the tracked size past 90% of the limit.
	cache.Index().AddEntry("bulk", testMetadata(85, time.Now().Add(-time.Hour)))

	require.NoError(t, cache.Put("fresh", "analysis", []byte("12345")))

	require.False(t, cache.Index().Contains("bulk"))
	require.True(t, cache.Index().Contains("fresh"))
	require.LessOrEqual(t, cache.Stats().TotalSize, int64(55))
}

func TestPruneEvictsLeastRecentlyUsed(t *testing.T) {
	dir := t.TempDir()
	seeded := newTestCacheAt(t, dir, debtcache.WithoutPruning())

	base := time.Now().Add(-8 * time.Hour)
	for i := range 8 {
		key := fmt.Sprintf("key-%d", i)
		require.NoError(t, seeded.Put(key, "analysis", []byte("0123456789")))
		seeded.Index().AddEntry(key, testMetadata(10, base.Add(time.Duration(i)*time.Hour)))
	}
	require.NoError(t, seeded.Index().Save(seeded.Location()))

	cache := newTestCacheAt(t, dir, debtcache.WithPruner(&debtcache.AutoPruner{
		MaxSizeBytes:    1 << 30,
		MaxAgeDays:      3650,
		MaxEntries:      5,
		PrunePercentage: 0.25,
		Strategy:        debtcache.PruneLRU,
	}))

	stats, err := cache.Prune()
	require.NoError(t, err)

	// 8 entries over a limit of 5: the excess plus a 25% buffer is 4.
	require.Equal(t, 4, stats.EntriesRemoved)
	require.Equal(t, int64(40), stats.BytesFreed)
	require.Equal(t, 4, stats.EntriesRemaining)
	require.Equal(t, int64(40), stats.BytesRemaining)
	require.Equal(t, 4, stats.FilesDeleted)
	require.Equal(t, 0, stats.FilesNotFound)

	for i := range 4 {
		key := fmt.Sprintf("key-%d", i)
		require.False(t, cache.Index().Contains(key), "expected %s evicted", key)
		require.False(t, cache.Exists(key, "analysis"))
	}
	for i := 4; i < 8; i++ {
		require.True(t, cache.Index().Contains(fmt.Sprintf("key-%d", i)))
	}
}

func TestPruneCountsMissingFiles(t *testing.T) {
	cache := newTestCache(t, debtcache.WithPruner(&debtcache.AutoPruner{
		MaxSizeBytes:    1 << 30,
		MaxAgeDays:      3650,
		MaxEntries:      2,
		PrunePercentage: 0.25,
		Strategy:        debtcache.PruneLRU,
	}))

	// Index entries with no backing files, as if another process already
	// swept them.
	base := time.Now().Add(-time.Hour)
	for i := range 4 {
		cache.Index().AddEntry(fmt.Sprintf("ghost-%d", i), testMetadata(10, base.Add(time.Duration(i)*time.Minute)))
	}

	stats, err := cache.Prune()
	require.NoError(t, err)
	require.Equal(t, 2, stats.EntriesRemoved)
	require.Equal(t, 0, stats.FilesDeleted)
	require.Equal(t, 2, stats.FilesNotFound)
}

func TestPruneEmptyCache(t *testing.T) {
	cache := newTestCache(t, debtcache.WithPruner(debtcache.DefaultPruner()))

	stats, err := cache.Prune()
	require.NoError(t, err)
	require.Zero(t, stats.EntriesRemoved)
	require.Zero(t, stats.BytesFreed)
	require.Zero(t, stats.EntriesRemaining)
}

func TestPruneWithoutPrunerFallsBackToCleanup(t *testing.T) {
	cache := newTestCache(t, debtcache.WithoutPruning(), debtcache.WithMaxCacheSize(50))

	base := time.Now().Add(-2 * time.Hour)
	cache.Index().AddEntry("old", testMetadata(40, base))
	cache.Index().AddEntry("new", testMetadata(20, base.Add(time.Hour)))

	stats, err := cache.Prune()
	require.NoError(t, err)
	require.Equal(t, 1, stats.EntriesRemaining)
	require.Equal(t, int64(20), stats.BytesRemaining)
	require.False(t, cache.Index().Contains("old"))
}

func TestPruneIfNeededUnderLimits(t *testing.T) {
	cache := newTestCache(t, debtcache.WithPruner(debtcache.DefaultPruner()))
	require.NoError(t, cache.Put("abc123", "analysis", []byte("data")))

	stats, err := cache.PruneIfNeeded()
	require.NoError(t, err)
	require.Zero(t, stats.EntriesRemoved)
	require.Equal(t, 1, stats.EntriesRemaining)
	require.True(t, cache.Exists("abc123", "analysis"))
}

func TestPruneWithStrategyLFU(t *testing.T) {
	cache := newTestCache(t, debtcache.WithPruner(&debtcache.AutoPruner{
		MaxSizeBytes:    1 << 30,
		MaxAgeDays:      3650,
		MaxEntries:      2,
		PrunePercentage: 0.25,
		Strategy:        debtcache.PruneLRU,
	}))

	now := time.Now()
	for i := range 4 {
		key := fmt.Sprintf("key-%d", i)
		require.NoError(t, cache.Put(key, "analysis", []byte("0123456789")))
		md := testMetadata(10, now)
		md.AccessCount = int64(i + 1)
		cache.Index().AddEntry(key, md)
	}

	stats, err := cache.PruneWithStrategy(debtcache.PruneLFU)
	require.NoError(t, err)
	require.Equal(t, 2, stats.EntriesRemoved)

	// The least frequently used entries go first regardless of recency.
	require.False(t, cache.Index().Contains("key-0"))
	require.False(t, cache.Index().Contains("key-1"))
	require.True(t, cache.Index().Contains("key-2"))
	require.True(t, cache.Index().Contains("key-3"))
}

func TestPruneWithStrategyAgeOnly(t *testing.T) {
	cache := newTestCache(t, debtcache.WithPruner(debtcache.DefaultPruner()))

	require.NoError(t, cache.Put("stale", "analysis", []byte("old data")))
	require.NoError(t, cache.Put("live", "analysis", []byte("new data")))
	cache.Index().AddEntry("stale", testMetadata(8, time.Now().AddDate(0, 0, -40)))

	stats, err := cache.PruneWithStrategy(debtcache.PruneAgeOnly)
	require.NoError(t, err)
	require.Equal(t, 1, stats.EntriesRemoved)
	require.False(t, cache.Index().Contains("stale"))
	require.True(t, cache.Index().Contains("live"))
	require.True(t, cache.Exists("live", "analysis"))
}

func TestSyncPruningEnforcesLimitsOnPut(t *testing.T) {
	t.Setenv("DEBTMAP_CACHE_SYNC_PRUNE", "true")

	cache := newTestCache(t, debtcache.WithPruner(&debtcache.AutoPruner{
		MaxSizeBytes:    1 << 30,
		MaxAgeDays:      3650,
		MaxEntries:      3,
		PrunePercentage: 0.25,
		Strategy:        debtcache.PruneLRU,
	}))

	for i := range 5 {
		require.NoError(t, cache.Put(fmt.Sprintf("key-%d", i), "analysis", []byte("0123456789")))
	}

	stats := cache.Stats()
	require.LessOrEqual(t, stats.EntryCount, 3)
	require.True(t, cache.Index().Contains("key-4"), "the newest entry must survive")
	require.False(t, cache.Index().Contains("key-0"))
}

func TestCleanOrphanedEntries(t *testing.T) {
	cache := newTestCache(t, debtcache.WithoutPruning())

	require.NoError(t, cache.Put("kept", "analysis", []byte("data")))
	require.NoError(t, cache.Put("orphan", "analysis", []byte("data")))
	require.NoError(t, os.Remove(cache.EntryPath("orphan", "analysis")))

	removed, err := cache.CleanOrphanedEntries()
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.False(t, cache.Index().Contains("orphan"))
	require.True(t, cache.Index().Contains("kept"))

	// Nothing left to do on a second pass.
	removed, err = cache.CleanOrphanedEntries()
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestCleanupOldEntries(t *testing.T) {
	cache := newTestCache(t, debtcache.WithoutPruning())

	require.NoError(t, cache.Put("stale", "analysis", []byte("old")))
	require.NoError(t, cache.Put("live", "analysis", []byte("new")))
	cache.Index().AddEntry("stale", testMetadata(3, time.Now().AddDate(0, 0, -40)))

	removed, err := cache.CleanupOldEntries(30)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.False(t, cache.Index().Contains("stale"))
	require.False(t, cache.Exists("stale", "analysis"))
	require.True(t, cache.Exists("live", "analysis"))

	// Zero days means everything qualifies.
	removed, err = cache.CleanupOldEntries(0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.Equal(t, 0, cache.Stats().EntryCount)
}

func TestBackgroundPruningOnPut(t *testing.T) {
	dir := t.TempDir()
	cache, err := debtcache.New("",
		debtcache.WithCacheDir(dir),
		debtcache.WithPruner(&debtcache.AutoPruner{
			MaxSizeBytes:    1 << 30,
			MaxAgeDays:      3650,
			MaxEntries:      2,
			PrunePercentage: 0.25,
			Strategy:        debtcache.PruneLRU,
		}))
	require.NoError(t, err)

	for i := range 5 {
		require.NoError(t, cache.Put(fmt.Sprintf("key-%d", i), "analysis", []byte("0123456789")))
	}

	// A run in flight can act on a stale snapshot, so keep re-arming with
	// an overwrite until the pruner has caught up.
	require.Eventually(t, func() bool {
		if cache.Stats().EntryCount <= 3 {
			return true
		}
		_ = cache.Put("key-0", "analysis", []byte("0123456789"))
		return false
	}, 5*time.Second, 25*time.Millisecond)

	// Drain before the test directory is removed.
	require.Eventually(t, func() bool {
		return !cache.IsBackgroundPruning()
	}, 5*time.Second, 10*time.Millisecond)
	require.NotNil(t, cache.LastPruneStats())
}
