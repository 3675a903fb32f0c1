package debtcache

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
)

// PruneStrategy selects which entries go first when the cache is over
// its limits.
type PruneStrategy string

const (
	// PruneLRU removes the least recently accessed entries first.
	PruneLRU PruneStrategy = "lru"

	// PruneLFU removes the least frequently accessed entries first.
	PruneLFU PruneStrategy = "lfu"

	// PruneFIFO removes the oldest entries by creation time first.
	PruneFIFO PruneStrategy = "fifo"

	// PruneAgeOnly removes only entries older than the age limit,
	// regardless of cache size.
	PruneAgeOnly PruneStrategy = "age"
)

// ParsePruneStrategy maps a configuration string to a strategy,
// defaulting to LRU for unknown values.
func ParsePruneStrategy(s string) PruneStrategy {
	switch strings.ToLower(s) {
	case "lfu":
		return PruneLFU
	case "fifo":
		return PruneFIFO
	case "age", "age_based":
		return PruneAgeOnly
	default:
		return PruneLRU
	}
}

// AutoPruner decides when a cache needs pruning and which entries to
// evict. It holds configuration only; the cache applies the decisions.
type AutoPruner struct {
	MaxSizeBytes    int64
	MaxAgeDays      int
	MaxEntries      int
	PrunePercentage float64
	Strategy        PruneStrategy
}

// DefaultPruner returns the built-in pruning limits: 1 GiB, 30 days,
// 10000 entries, evicting an extra 25% past the limit with LRU order.
func DefaultPruner() *AutoPruner {
	return &AutoPruner{
		MaxSizeBytes:    1 << 30,
		MaxAgeDays:      30,
		MaxEntries:      10000,
		PrunePercentage: 0.25,
		Strategy:        PruneLRU,
	}
}

// prunerEnv mirrors AutoPruner for environment parsing.
type prunerEnv struct {
	MaxSizeBytes    int64   `env:"DEBTMAP_CACHE_MAX_SIZE" envDefault:"1073741824"`
	MaxAgeDays      int     `env:"DEBTMAP_CACHE_MAX_AGE_DAYS" envDefault:"30"`
	MaxEntries      int     `env:"DEBTMAP_CACHE_MAX_ENTRIES" envDefault:"10000"`
	PrunePercentage float64 `env:"DEBTMAP_CACHE_PRUNE_PERCENTAGE" envDefault:"0.25"`
	Strategy        string  `env:"DEBTMAP_CACHE_STRATEGY" envDefault:"lru"`
}

// PrunerFromEnv builds a pruner from DEBTMAP_CACHE_* environment
// variables, falling back to DefaultPruner when they fail to parse.
func PrunerFromEnv() *AutoPruner {
	cfg, err := env.ParseAs[prunerEnv]()
	if err != nil {
		log.Warn("Could not parse cache pruning environment, using defaults", "err", err)
		return DefaultPruner()
	}
	return &AutoPruner{
		MaxSizeBytes:    cfg.MaxSizeBytes,
		MaxAgeDays:      cfg.MaxAgeDays,
		MaxEntries:      cfg.MaxEntries,
		PrunePercentage: clampPercentage(cfg.PrunePercentage),
		Strategy:        ParsePruneStrategy(cfg.Strategy),
	}
}

// clampPercentage keeps the eviction buffer inside sane bounds. Below 0.1
// pruning runs on nearly every insert; above 0.9 a single prune empties
// the cache.
func clampPercentage(p float64) float64 {
	return min(max(p, 0.1), 0.9)
}

// cacheEnv holds the per-operation pruning switches.
type cacheEnv struct {
	AutoPrune bool `env:"DEBTMAP_CACHE_AUTO_PRUNE" envDefault:"true"`
	SyncPrune bool `env:"DEBTMAP_CACHE_SYNC_PRUNE" envDefault:"false"`
}

// pruningConfig is the effective pruning behavior for one insert.
// syncPrune is only honored when auto pruning is on.
type pruningConfig struct {
	autoPrune bool
	syncPrune bool
}

// pruningConfigFromEnv reads the pruning switches. It runs on every
// insert so tests and long-lived processes can flip behavior without
// rebuilding the cache.
func pruningConfigFromEnv() pruningConfig {
	cfg, err := env.ParseAs[cacheEnv]()
	if err != nil {
		log.Warn("Could not parse cache environment, auto pruning stays on", "err", err)
		return pruningConfig{autoPrune: true}
	}
	return pruningConfig{
		autoPrune: cfg.AutoPrune,
		syncPrune: cfg.AutoPrune && cfg.SyncPrune,
	}
}

// ShouldPrune reports whether the cache needs pruning: over the size
// limit, over the entry limit, or holding expired entries. The age check
// is skipped when a cleanup ran within the last day.
func (p *AutoPruner) ShouldPrune(snap IndexSnapshot) bool {
	if snap.TotalSize > p.MaxSizeBytes {
		return true
	}
	if len(snap.Entries) > p.MaxEntries {
		return true
	}
	if len(snap.Entries) == 0 {
		return false
	}
	now := time.Now()
	return p.ageCheckDue(snap.LastCleanup, now) && p.hasExpiredEntries(snap.Entries, now)
}

func (p *AutoPruner) ageCheckDue(lastCleanup time.Time, now time.Time) bool {
	if lastCleanup.IsZero() {
		return true
	}
	return now.Sub(lastCleanup) > 24*time.Hour
}

func (p *AutoPruner) hasExpiredEntries(entries map[string]CacheMetadata, now time.Time) bool {
	maxAge := p.maxAge()
	for _, md := range entries {
		if entryExpired(md, maxAge, now) {
			return true
		}
	}
	return false
}

func (p *AutoPruner) maxAge() time.Duration {
	return time.Duration(p.MaxAgeDays) * 24 * time.Hour
}

func entryExpired(md CacheMetadata, maxAge time.Duration, now time.Time) bool {
	return now.Sub(md.LastAccessed) > maxAge
}

// CalculateEntriesToRemove selects the eviction set for the configured
// strategy. The snapshot is not mutated; callers apply the result.
func (p *AutoPruner) CalculateEntriesToRemove(snap IndexSnapshot) []Entry {
	switch p.Strategy {
	case PruneLFU:
		return p.selectForRemoval(sortEntries(snap.Entries, byAccessCount), snap)
	case PruneFIFO:
		return p.selectForRemoval(sortEntries(snap.Entries, byCreation), snap)
	case PruneAgeOnly:
		return p.expiredEntries(snap.Entries, time.Now())
	default:
		return p.selectForRemoval(sortEntries(snap.Entries, byLastAccess), snap)
	}
}

func byLastAccess(a, b Entry) bool {
	return a.Metadata.LastAccessed.Before(b.Metadata.LastAccessed)
}

func byAccessCount(a, b Entry) bool {
	return a.Metadata.AccessCount < b.Metadata.AccessCount
}

func byCreation(a, b Entry) bool {
	return a.Metadata.CreatedAt.Before(b.Metadata.CreatedAt)
}

func sortEntries(entries map[string]CacheMetadata, less func(a, b Entry) bool) []Entry {
	sorted := make([]Entry, 0, len(entries))
	for key, md := range entries {
		sorted = append(sorted, Entry{Key: key, Metadata: md})
	}
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	return sorted
}

// selectForRemoval walks the eviction order until both the size and count
// targets are met, then keeps going only through expired entries.
func (p *AutoPruner) selectForRemoval(sorted []Entry, snap IndexSnapshot) []Entry {
	targetSize := sizeRemovalTarget(snap.TotalSize, p.MaxSizeBytes, p.PrunePercentage)
	targetCount := countRemovalTarget(len(snap.Entries), p.MaxEntries, p.PrunePercentage)
	maxAge := p.maxAge()
	now := time.Now()

	var selected []Entry
	var selectedSize int64
	for _, e := range sorted {
		if len(selected) >= targetCount && selectedSize >= targetSize && !entryExpired(e.Metadata, maxAge, now) {
			break
		}
		selected = append(selected, e)
		selectedSize += e.Metadata.SizeBytes
	}
	return selected
}

func (p *AutoPruner) expiredEntries(entries map[string]CacheMetadata, now time.Time) []Entry {
	maxAge := p.maxAge()
	var expired []Entry
	for key, md := range entries {
		if entryExpired(md, maxAge, now) {
			expired = append(expired, Entry{Key: key, Metadata: md})
		}
	}
	return expired
}

// sizeRemovalTarget returns how many bytes to evict: zero under the
// limit, otherwise the excess plus a percentage of the limit as headroom
// so pruning does not retrigger on the next insert.
func sizeRemovalTarget(currentSize, maxSize int64, prunePercentage float64) int64 {
	if currentSize <= maxSize {
		return 0
	}
	excess := currentSize - maxSize
	buffer := int64(float64(maxSize) * prunePercentage)
	return excess + buffer
}

// countRemovalTarget is the entry-count analogue of sizeRemovalTarget.
func countRemovalTarget(currentCount, maxEntries int, prunePercentage float64) int {
	if currentCount <= maxEntries {
		return 0
	}
	excess := currentCount - maxEntries
	buffer := int(float64(maxEntries) * prunePercentage)
	return excess + buffer
}

// PruneStats summarizes one prune run.
type PruneStats struct {
	EntriesRemoved   int
	BytesFreed       int64
	EntriesRemaining int
	BytesRemaining   int64
	Duration         time.Duration
	FilesDeleted     int
	FilesNotFound    int
}

func (s PruneStats) String() string {
	return fmt.Sprintf("pruned %d entries (%s) in %s, %s remaining in %d entries",
		s.EntriesRemoved,
		humanize.Bytes(uint64(max(s.BytesFreed, 0))),
		s.Duration.Round(time.Millisecond),
		humanize.Bytes(uint64(max(s.BytesRemaining, 0))),
		s.EntriesRemaining)
}
