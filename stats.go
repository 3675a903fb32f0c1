package debtcache

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// CacheStats is the lightweight view used by pruning decisions.
type CacheStats struct {
	EntryCount int
	TotalSize  int64
}

func (s CacheStats) String() string {
	return fmt.Sprintf("%s entries, %s", humanize.Comma(int64(s.EntryCount)), humanizeBytes(s.TotalSize))
}

// FullCacheStats adds location details for user-facing reporting.
type FullCacheStats struct {
	TotalEntries int
	TotalSize    int64
	Location     string
	Strategy     CacheStrategy
	ProjectID    string
}

func (s FullCacheStats) String() string {
	var b strings.Builder
	b.WriteString("Cache statistics:\n")
	fmt.Fprintf(&b, "  Strategy:   %s\n", s.Strategy)
	fmt.Fprintf(&b, "  Location:   %s\n", s.Location)
	fmt.Fprintf(&b, "  Project ID: %s\n", s.ProjectID)
	fmt.Fprintf(&b, "  Entries:    %s\n", humanize.Comma(int64(s.TotalEntries)))
	fmt.Fprintf(&b, "  Total size: %s\n", humanizeBytes(s.TotalSize))
	return b.String()
}

func humanizeBytes(n int64) string {
	return humanize.Bytes(uint64(max(n, 0)))
}
