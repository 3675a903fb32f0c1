package debtcache

import (
	"errors"
	"io/fs"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc/pool"
)

// pruneMode is how an individual insert interacts with pruning.
type pruneMode uint8

const (
	pruneModeNone pruneMode = iota
	pruneModeSync
	pruneModeBackground
)

// pruningModeFor picks the insert-time pruning behavior. Sync mode wins
// when requested; otherwise pruning goes to the background pruner when
// one exists, and stays inline when it does not.
func pruningModeFor(cfg pruningConfig, hasPruner, hasBackground bool) pruneMode {
	if !hasPruner {
		return pruneModeNone
	}
	if cfg.syncPrune {
		return pruneModeSync
	}
	if hasBackground {
		return pruneModeBackground
	}
	return pruneModeSync
}

// Prune evicts entries according to the configured strategy and reports
// what was removed. Without a pruner it falls back to Cleanup.
func (c *SharedCache) Prune() (PruneStats, error) {
	if c.pruner == nil {
		return c.fallbackCleanup()
	}
	entries := c.pruner.CalculateEntriesToRemove(c.index.Snapshot())
	if len(entries) == 0 {
		return c.noPruneStats(), nil
	}
	return c.applyPrune(entries)
}

// PruneIfNeeded prunes only when the cache is over its limits. Orphaned
// index entries are cleaned first so the decision sees accurate numbers.
func (c *SharedCache) PruneIfNeeded() (PruneStats, error) {
	return c.pruneIfNeededForEntry(0)
}

// pruneIfNeededForEntry is PruneIfNeeded with the size of an incoming
// entry projected into the limit check, so room is made before the
// insert rather than after.
func (c *SharedCache) pruneIfNeededForEntry(newEntrySize int64) (PruneStats, error) {
	if _, err := c.CleanOrphanedEntries(); err != nil {
		return PruneStats{}, err
	}
	if c.pruner == nil {
		return c.noPruneStats(), nil
	}
	if !pruneNeededForEntry(c.index.Stats(), newEntrySize, c.pruner.MaxSizeBytes, c.pruner.MaxEntries) &&
		!c.pruner.ShouldPrune(c.index.Snapshot()) {
		return c.noPruneStats(), nil
	}
	return c.Prune()
}

func pruneNeededForEntry(stats CacheStats, newEntrySize, maxSize int64, maxEntries int) bool {
	projectedSize := stats.TotalSize + newEntrySize
	projectedCount := stats.EntryCount
	if newEntrySize > 0 {
		projectedCount++
	}
	return projectedSize > maxSize || projectedCount > maxEntries
}

// PruneWithStrategy prunes once with an explicit strategy, leaving the
// configured pruner untouched.
func (c *SharedCache) PruneWithStrategy(strategy PruneStrategy) (PruneStats, error) {
	base := c.pruner
	if base == nil {
		base = DefaultPruner()
	}
	pruner := *base
	pruner.Strategy = strategy

	entries := pruner.CalculateEntriesToRemove(c.index.Snapshot())
	if len(entries) == 0 {
		return c.noPruneStats(), nil
	}
	return c.applyPrune(entries)
}

// applyPrune is the shared eviction pipeline: drop the entries from the
// index, sweep their files, record the cleanup time, and persist.
func (c *SharedCache) applyPrune(entries []Entry) (PruneStats, error) {
	start := time.Now()

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	_, bytesFreed := c.index.RemoveEntries(keys)
	filesDeleted, filesNotFound := c.deletePrunedFiles(entries)
	c.index.MarkCleanup(time.Now())
	if err := c.saveIndex(); err != nil {
		return PruneStats{}, err
	}

	stats := c.index.Stats()
	return PruneStats{
		EntriesRemoved:   len(entries),
		BytesFreed:       bytesFreed,
		EntriesRemaining: stats.EntryCount,
		BytesRemaining:   stats.TotalSize,
		Duration:         time.Since(start),
		FilesDeleted:     filesDeleted,
		FilesNotFound:    filesNotFound,
	}, nil
}

// deletePrunedFiles sweeps the files behind evicted entries across every
// component. Failures are logged and skipped; an entry with no file in
// any component counts as not found.
func (c *SharedCache) deletePrunedFiles(entries []Entry) (filesDeleted, filesNotFound int) {
	var deleted, notFound atomic.Int64
	p := pool.New().WithMaxGoroutines(c.concurrency)
	for _, e := range entries {
		p.Go(func() {
			found := false
			for _, component := range cacheComponents {
				path := c.EntryPath(e.Key, component)
				err := os.Remove(path)
				switch {
				case err == nil:
					found = true
					deleted.Add(1)
				case errors.Is(err, fs.ErrNotExist):
				default:
					log.Debug("Could not delete cache file", "path", path, "err", err)
				}
			}
			if !found {
				notFound.Add(1)
			}
		})
	}
	p.Wait()
	return int(deleted.Load()), int(notFound.Load())
}

// deleteFilesForKeys sweeps files for keys across every component
// without counting, for callers that only need the space back.
func (c *SharedCache) deleteFilesForKeys(keys []string) {
	p := pool.New().WithMaxGoroutines(c.concurrency)
	for _, key := range keys {
		p.Go(func() {
			for _, component := range cacheComponents {
				path := c.EntryPath(key, component)
				if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
					log.Debug("Could not delete cache file", "path", path, "err", err)
				}
			}
		})
	}
	p.Wait()
}

// fallbackCleanup runs the plain size-based cleanup and reports it in
// prune terms, for Prune calls on caches without a pruner.
func (c *SharedCache) fallbackCleanup() (PruneStats, error) {
	start := time.Now()
	if err := c.Cleanup(); err != nil {
		return PruneStats{}, err
	}
	stats := c.index.Stats()
	return PruneStats{
		EntriesRemaining: stats.EntryCount,
		BytesRemaining:   stats.TotalSize,
		Duration:         time.Since(start),
	}, nil
}

// noPruneStats reports the current cache state with nothing removed.
func (c *SharedCache) noPruneStats() PruneStats {
	stats := c.index.Stats()
	return PruneStats{
		EntriesRemaining: stats.EntryCount,
		BytesRemaining:   stats.TotalSize,
	}
}

// CleanOrphanedEntries drops index entries whose files are gone from
// every component, typically after another process pruned the shared
// directory. Returns how many were dropped.
func (c *SharedCache) CleanOrphanedEntries() (int, error) {
	var orphaned []string
	for _, key := range c.index.Keys() {
		if !c.hasAnyComponentFile(key) {
			orphaned = append(orphaned, key)
		}
	}
	if len(orphaned) == 0 {
		return 0, nil
	}

	removed, _ := c.index.RemoveEntries(orphaned)
	for _, key := range orphaned {
		log.Debug("Removed orphaned cache entry", "key", key)
	}
	if removed > 0 {
		if err := c.saveIndex(); err != nil {
			return removed, err
		}
		log.Info("Cleaned up orphaned cache entries", "count", removed)
	}
	return removed, nil
}

func (c *SharedCache) hasAnyComponentFile(key string) bool {
	for _, component := range cacheComponents {
		if c.Exists(key, component) {
			return true
		}
	}
	return false
}

// CleanupOldEntries removes entries last accessed at least maxAgeDays
// ago. Zero days removes everything. Returns how many were removed.
func (c *SharedCache) CleanupOldEntries(maxAgeDays int) (int, error) {
	maxAge := time.Duration(maxAgeDays) * 24 * time.Hour
	now := time.Now()

	var stale []string
	for key, md := range c.index.Snapshot().Entries {
		if now.Sub(md.LastAccessed) >= maxAge {
			stale = append(stale, key)
		}
	}

	removed, _ := c.index.RemoveEntries(stale)
	c.deleteFilesForKeys(stale)
	if err := c.saveIndex(); err != nil {
		return removed, err
	}
	return removed, nil
}

// Cleanup shrinks the cache to half its size limit, evicting the least
// recently accessed entries first.
func (c *SharedCache) Cleanup() error {
	sorted, totalSize := c.index.SortedEntries()
	keys := selectKeysForRemoval(sorted, c.maxCacheSize/2, totalSize)

	c.index.RemoveEntries(keys)
	c.deleteFilesForKeys(keys)
	c.index.MarkCleanup(time.Now())
	return c.saveIndex()
}

// selectKeysForRemoval walks entries in eviction order until the
// remaining size drops to targetSize.
func selectKeysForRemoval(entries []Entry, targetSize, currentSize int64) []string {
	var keys []string
	remaining := currentSize
	for _, e := range entries {
		if remaining <= targetSize {
			break
		}
		keys = append(keys, e.Key)
		remaining -= e.Metadata.SizeBytes
	}
	return keys
}

// maybeCleanup triggers Cleanup once the tracked size crosses the
// cleanup threshold. This is the insert-path safety net for caches
// without a pruner.
func (c *SharedCache) maybeCleanup() error {
	threshold := int64(float64(c.maxCacheSize) * c.cleanupThreshold)
	if !c.index.TotalSizeExceeds(threshold) {
		return nil
	}
	return c.Cleanup()
}
