package debtcache

import (
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc/panics"
)

// BackgroundPruner runs pruning off the insert path. At most one run is
// active at a time; inserts that find a run in flight continue without
// waiting.
type BackgroundPruner struct {
	pruner  *AutoPruner
	running atomic.Bool

	mu        sync.Mutex
	lastStats *PruneStats
}

// NewBackgroundPruner wraps pruner for asynchronous execution.
func NewBackgroundPruner(pruner *AutoPruner) *BackgroundPruner {
	return &BackgroundPruner{pruner: pruner}
}

// IsRunning reports whether a background prune is currently in flight.
func (b *BackgroundPruner) IsRunning() bool {
	return b.running.Load()
}

// LastStats returns a copy of the stats from the most recent completed
// run, or nil when none has completed yet.
func (b *BackgroundPruner) LastStats() *PruneStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastStats == nil {
		return nil
	}
	stats := *b.lastStats
	return &stats
}

// StartIfNeeded launches a prune in a goroutine when none is running and
// the index is over its limits. apply performs the actual eviction and
// must be safe to call concurrently with cache operations. Returns
// whether a run was started.
func (b *BackgroundPruner) StartIfNeeded(index *IndexManager, apply func([]Entry) (PruneStats, error)) bool {
	if !b.running.CompareAndSwap(false, true) {
		return false
	}
	if !b.pruner.ShouldPrune(index.Snapshot()) {
		b.running.Store(false)
		return false
	}

	go func() {
		defer b.running.Store(false)
		recovered := panics.Try(func() {
			b.run(index, apply)
		})
		if recovered != nil {
			log.Error("Background pruning panicked", "err", recovered.AsError())
		}
	}()
	return true
}

func (b *BackgroundPruner) run(index *IndexManager, apply func([]Entry) (PruneStats, error)) {
	entries := b.pruner.CalculateEntriesToRemove(index.Snapshot())
	if len(entries) == 0 {
		return
	}
	stats, err := apply(entries)
	if err != nil {
		log.Warn("Background pruning failed", "err", err)
		return
	}

	b.mu.Lock()
	b.lastStats = &stats
	b.mu.Unlock()

	log.Info("Background pruning completed",
		"removed", stats.EntriesRemoved,
		"freed", humanizeBytes(stats.BytesFreed),
		"remaining", stats.EntriesRemaining)
}
