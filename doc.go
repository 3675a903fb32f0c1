// Package debtcache provides an on-disk analysis cache shared between
// concurrent processes.
//
// Blobs are stored per component under sharded directories and tracked
// by a JSON index. Every file write goes through a temp-file-and-rename
// protocol, so concurrent caches on the same directory never observe
// partial content and need no locks. Size, age, and entry-count limits
// are enforced by a configurable pruner, either inline on insert or in
// the background.
//
// Basic usage:
//
//	cache, _ := debtcache.New("")
//
//	// Derive a key from a source file (path plus content digest)
//	key, _ := cache.ComputeKey("src/main.go")
//
//	// Store and retrieve per-component results
//	cache.Put(key, "analysis", report)
//	data, _ := cache.Get(key, "analysis")
//
//	// Check existence and usage
//	if cache.Exists(key, "analysis") { ... }
//	fmt.Println(cache.Stats())
//
//	// Maintenance
//	stats, _ := cache.Prune()          // evict by the configured strategy
//	n, _ := cache.CleanupOldEntries(30) // drop entries unused for 30 days
//	cache.Clear()                       // remove everything
//
// Cache placement, limits, and pruning behavior are controlled through
// Options and the DEBTMAP_CACHE_* environment variables; by default the
// cache lives in the user cache directory, keyed by project, so every
// working tree of a project shares one cache.
package debtcache
