package debtcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/debtmap/debtcache/internal/atomicio"
)

const (
	indexFileName      = "index.json"
	indexFormatVersion = "1"
)

// CacheMetadata records bookkeeping for a single cache entry. It lives in
// the index, not next to the blob, so stats and pruning never touch blob
// files.
type CacheMetadata struct {
	Version      string    `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int64     `json:"access_count"`
	SizeBytes    int64     `json:"size_bytes"`
	ToolVersion  string    `json:"debtmap_version"`
}

// Entry pairs a cache key with its metadata.
type Entry struct {
	Key      string
	Metadata CacheMetadata
}

// IndexSnapshot is a point-in-time copy of the index used for pruning
// decisions. LastCleanup is the zero time when the cache has never been
// cleaned.
type IndexSnapshot struct {
	Entries     map[string]CacheMetadata
	TotalSize   int64
	LastCleanup time.Time
}

// cacheIndex is the persisted form of the index.
type cacheIndex struct {
	Version     string                   `json:"version"`
	ToolVersion string                   `json:"debtmap_version"`
	Entries     map[string]CacheMetadata `json:"entries"`
	TotalSize   int64                    `json:"total_size"`
	LastCleanup *time.Time               `json:"last_cleanup,omitempty"`
}

// IndexManager owns the entry index for one cache directory. All methods
// are safe for concurrent use; mutations mark the index dirty and Save
// skips the write when nothing changed.
type IndexManager struct {
	mu  sync.RWMutex
	idx cacheIndex

	// saveMu serializes Save. The dirty flag is claimed under it, so a
	// stale snapshot never overwrites a fresher one and a mutation
	// observed by a save is on disk before that save returns.
	saveMu sync.Mutex
	dirty  atomic.Bool
}

// LoadIndex reads the index for loc, starting fresh when the file is
// missing or unreadable. A cache index is always reconstructible from a
// re-run, so corruption is logged and discarded rather than surfaced.
func LoadIndex(loc *CacheLocation, toolVersion string) (*IndexManager, error) {
	m := &IndexManager{
		idx: cacheIndex{
			Version:     indexFormatVersion,
			ToolVersion: toolVersion,
			Entries:     make(map[string]CacheMetadata),
		},
	}

	data, err := os.ReadFile(loc.IndexPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m, nil
		}
		return nil, fmt.Errorf("read cache index %s: %w", loc.IndexPath(), err)
	}

	var idx cacheIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		log.Warn("Cache index is corrupt, starting fresh", "path", loc.IndexPath(), "err", err)
		return m, nil
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]CacheMetadata)
	}
	m.idx = idx
	return m, nil
}

// AddEntry inserts or replaces the metadata for key and keeps the running
// total size consistent.
func (m *IndexManager) AddEntry(key string, md CacheMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.idx.Entries[key]; ok {
		m.idx.TotalSize -= old.SizeBytes
	}
	m.idx.Entries[key] = md
	m.idx.TotalSize += md.SizeBytes
	m.dirty.Store(true)
}

// RemoveEntry deletes key from the index, reporting whether it was present.
func (m *IndexManager) RemoveEntry(key string) bool {
	removed, _ := m.RemoveEntries([]string{key})
	return removed > 0
}

// RemoveEntries deletes the given keys, returning how many were present
// and the total size they accounted for.
func (m *IndexManager) RemoveEntries(keys []string) (int, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	var freed int64
	for _, key := range keys {
		md, ok := m.idx.Entries[key]
		if !ok {
			continue
		}
		delete(m.idx.Entries, key)
		m.idx.TotalSize -= md.SizeBytes
		freed += md.SizeBytes
		removed++
	}
	if removed > 0 {
		m.dirty.Store(true)
	}
	return removed, freed
}

// Touch bumps the access count and last-access time for key, reporting
// whether the key exists.
func (m *IndexManager) Touch(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	md, ok := m.idx.Entries[key]
	if !ok {
		return false
	}
	md.AccessCount++
	md.LastAccessed = time.Now()
	m.idx.Entries[key] = md
	m.dirty.Store(true)
	return true
}

// Contains reports whether key is tracked by the index.
func (m *IndexManager) Contains(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.idx.Entries[key]
	return ok
}

// Keys returns all tracked cache keys.
func (m *IndexManager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.idx.Entries))
	for key := range m.idx.Entries {
		keys = append(keys, key)
	}
	return keys
}

// Stats returns the current entry count and total tracked size.
func (m *IndexManager) Stats() CacheStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return CacheStats{EntryCount: len(m.idx.Entries), TotalSize: m.idx.TotalSize}
}

// Snapshot copies the index state for lock-free pruning decisions.
func (m *IndexManager) Snapshot() IndexSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make(map[string]CacheMetadata, len(m.idx.Entries))
	for key, md := range m.idx.Entries {
		entries[key] = md
	}
	snap := IndexSnapshot{Entries: entries, TotalSize: m.idx.TotalSize}
	if m.idx.LastCleanup != nil {
		snap.LastCleanup = *m.idx.LastCleanup
	}
	return snap
}

// SortedEntries returns all entries ordered by last access, oldest first,
// together with the total tracked size.
func (m *IndexManager) SortedEntries() ([]Entry, int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]Entry, 0, len(m.idx.Entries))
	for key, md := range m.idx.Entries {
		entries = append(entries, Entry{Key: key, Metadata: md})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Metadata.LastAccessed.Before(entries[j].Metadata.LastAccessed)
	})
	return entries, m.idx.TotalSize
}

// TotalSizeExceeds reports whether the tracked size is above threshold.
func (m *IndexManager) TotalSizeExceeds(threshold int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idx.TotalSize > threshold
}

// CheckVersionMismatch reports whether the index was written by a
// different tool version than current.
func (m *IndexManager) CheckVersionMismatch(current string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idx.ToolVersion != current
}

// MarkCleanup records when pruning last ran. Age-based prune checks are
// rate limited against this timestamp.
func (m *IndexManager) MarkCleanup(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idx.LastCleanup = &t
	m.dirty.Store(true)
}

// Clear drops every entry and re-stamps the index with toolVersion.
func (m *IndexManager) Clear(toolVersion string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idx.Entries = make(map[string]CacheMetadata)
	m.idx.TotalSize = 0
	m.idx.ToolVersion = toolVersion
	m.dirty.Store(true)
}

// Save atomically persists the index when it has changed since the last
// save. Saves are serialized: a mutation observed by a save is on disk
// once that save returns. Concurrent caches on the same directory
// tolerate each other because the write goes through a rename.
func (m *IndexManager) Save(loc *CacheLocation) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	if !m.dirty.Swap(false) {
		return nil
	}

	m.mu.RLock()
	data, err := json.MarshalIndent(m.idx, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		m.dirty.Store(true)
		return fmt.Errorf("encode cache index: %w", err)
	}

	if err := atomicio.WriteFile(loc.IndexPath(), data); err != nil {
		m.dirty.Store(true)
		return fmt.Errorf("save cache index: %w", err)
	}
	return nil
}
