package debtcache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/debtmap/debtcache/internal/atomicio"
)

// Version is the tool version stamped into cache entries and the index.
// An index persisted by a different version is discarded on open.
const Version = "0.3.1"

// DefaultConcurrency is the number of parallel workers for file sweeps.
const DefaultConcurrency = 4

const (
	defaultMaxCacheSize     = 1 << 30
	defaultCleanupThreshold = 0.9
)

// SharedCache is an on-disk blob cache shared between concurrent
// processes. Blobs are stored per component under sharded directories
// and tracked by a JSON index; every write is atomic, so concurrent
// caches on the same directory coexist without locks.
type SharedCache struct {
	location         *CacheLocation
	index            *IndexManager
	pruner           *AutoPruner
	background       *BackgroundPruner
	toolVersion      string
	maxCacheSize     int64
	cleanupThreshold float64
	concurrency      int
}

// New opens the cache for the project at repoPath. An empty repoPath
// means the current directory. The location, pruning limits, and tool
// version come from options and the DEBTMAP_CACHE_* environment; see
// Options for the defaults.
func New(repoPath string, opts ...Option) (*SharedCache, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	location, err := resolveLocation(repoPath, options)
	if err != nil {
		return nil, err
	}
	if err := location.EnsureDirectories(); err != nil {
		return nil, err
	}

	index, err := LoadIndex(location, options.ToolVersion)
	if err != nil {
		return nil, err
	}

	pruner := options.Pruner
	if pruner == nil && !options.DisableAutoPrune && pruningConfigFromEnv().autoPrune {
		pruner = PrunerFromEnv()
	}
	var background *BackgroundPruner
	if pruner != nil && !options.DisableBackground {
		background = NewBackgroundPruner(pruner)
	}

	maxCacheSize := options.MaxCacheSize
	if maxCacheSize == 0 {
		maxCacheSize = defaultMaxCacheSize
		if pruner != nil {
			maxCacheSize = pruner.MaxSizeBytes
		}
	}
	cleanupThreshold := options.CleanupThreshold
	if cleanupThreshold == 0 {
		cleanupThreshold = defaultCleanupThreshold
	}

	c := &SharedCache{
		location:         location,
		index:            index,
		pruner:           pruner,
		background:       background,
		toolVersion:      options.ToolVersion,
		maxCacheSize:     maxCacheSize,
		cleanupThreshold: cleanupThreshold,
		concurrency:      options.Concurrency,
	}
	if _, err := c.ValidateVersion(); err != nil {
		return nil, err
	}
	return c, nil
}

func resolveLocation(repoPath string, o *Options) (*CacheLocation, error) {
	switch {
	case o.CacheDir != "":
		return ResolveCustomLocation(repoPath, o.CacheDir)
	case o.Local:
		return ResolveLocalLocation(repoPath)
	default:
		return ResolveLocation(repoPath)
	}
}

// Location returns where this cache lives on disk.
func (c *SharedCache) Location() *CacheLocation { return c.location }

// Index exposes the entry index for inspection.
func (c *SharedCache) Index() *IndexManager { return c.index }

// EntryPath returns the file a key maps to within component. Keys fan
// out into two-character shard directories by prefix; keys shorter than
// two characters share the "00" shard. Keys are expected to be flat
// digest-like strings.
func (c *SharedCache) EntryPath(key, component string) string {
	shard := "00"
	if len(key) >= 2 {
		shard = key[:2]
	}
	return filepath.Join(c.location.ComponentPath(component), shard, key+".cache")
}

// Get returns the cached blob for key in component, or ErrNotFound.
// Access bookkeeping is best effort and never fails a hit.
func (c *SharedCache) Get(key, component string) ([]byte, error) {
	path := c.EntryPath(key, component)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read cache entry %s: %w", path, err)
	}
	c.index.Touch(key)
	return data, nil
}

// Put stores data for key in component and applies the configured
// pruning policy around the insert.
func (c *SharedCache) Put(key, component string, data []byte) error {
	return c.putWithConfig(key, component, data, pruningConfigFromEnv())
}

func (c *SharedCache) putWithConfig(key, component string, data []byte, cfg pruningConfig) error {
	if err := c.prePutPruning(key, int64(len(data)), cfg); err != nil {
		return err
	}
	if err := c.store(key, component, data); err != nil {
		return err
	}
	return c.postPutPruning(cfg)
}

func (c *SharedCache) store(key, component string, data []byte) error {
	path := c.EntryPath(key, component)
	if err := atomicio.WriteFile(path, data); err != nil {
		return fmt.Errorf("write cache entry %s/%s: %w", component, key, err)
	}
	c.index.AddEntry(key, c.newMetadata(int64(len(data))))
	return c.saveIndex()
}

// prePutPruning makes room before an insert. Sync mode prunes inline,
// background mode kicks the async pruner, and without a pruner the
// insert falls back to the size-triggered cleanup.
func (c *SharedCache) prePutPruning(key string, size int64, cfg pruningConfig) error {
	switch pruningModeFor(cfg, c.pruner != nil, c.background != nil) {
	case pruneModeSync:
		if c.index.Contains(key) {
			// Overwrites do not grow the entry count; projecting the
			// new entry would double count.
			_, err := c.PruneIfNeeded()
			return err
		}
		_, err := c.pruneIfNeededForEntry(size)
		return err
	case pruneModeBackground:
		c.background.StartIfNeeded(c.index, c.applyPrune)
		return nil
	default:
		if c.pruner == nil {
			return c.maybeCleanup()
		}
		return nil
	}
}

// postPutPruning enforces hard limits after a sync-mode insert, so a put
// never completes with the cache over its configured maximums.
func (c *SharedCache) postPutPruning(cfg pruningConfig) error {
	if c.pruner == nil || !cfg.syncPrune {
		return nil
	}
	stats := c.index.Stats()
	if stats.TotalSize > c.pruner.MaxSizeBytes || stats.EntryCount > c.pruner.MaxEntries {
		if _, err := c.Prune(); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether a blob is cached for key in component.
func (c *SharedCache) Exists(key, component string) bool {
	info, err := os.Stat(c.EntryPath(key, component))
	return err == nil && info.Mode().IsRegular()
}

// Delete removes the blob for key in component and drops the key from
// the index. A missing file is not an error.
func (c *SharedCache) Delete(key, component string) error {
	path := c.EntryPath(key, component)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete cache entry %s: %w", path, err)
	}
	c.index.RemoveEntry(key)
	return c.saveIndex()
}

// ComputeKey derives a cache key for path. Regular files key on the path
// plus a digest of their content, so edits invalidate naturally;
// anything else keys on the path string alone.
func (c *SharedCache) ComputeKey(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return path, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return path + ":" + hex.EncodeToString(sum[:]), nil
}

// Stats returns the entry count and total size tracked by the index.
func (c *SharedCache) Stats() CacheStats {
	return c.index.Stats()
}

// IsBackgroundPruning reports whether an asynchronous prune is in flight.
func (c *SharedCache) IsBackgroundPruning() bool {
	return c.background != nil && c.background.IsRunning()
}

// LastPruneStats returns stats from the most recent completed background
// prune, or nil when none has run.
func (c *SharedCache) LastPruneStats() *PruneStats {
	if c.background == nil {
		return nil
	}
	return c.background.LastStats()
}

// FullStats returns stats together with the resolved cache location.
func (c *SharedCache) FullStats() FullCacheStats {
	stats := c.index.Stats()
	return FullCacheStats{
		TotalEntries: stats.EntryCount,
		TotalSize:    stats.TotalSize,
		Location:     c.location.CachePath(),
		Strategy:     c.location.Strategy,
		ProjectID:    c.location.ProjectID,
	}
}

func (c *SharedCache) newMetadata(size int64) CacheMetadata {
	now := time.Now()
	return CacheMetadata{
		Version:      c.toolVersion,
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  1,
		SizeBytes:    size,
		ToolVersion:  c.toolVersion,
	}
}

func (c *SharedCache) saveIndex() error {
	return c.index.Save(c.location)
}
