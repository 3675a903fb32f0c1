package debtcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/muesli/gitcha"
	gap "github.com/muesli/go-app-paths"
)

// CacheStrategy selects where a cache directory lives.
type CacheStrategy string

const (
	// StrategyShared places the cache in the user cache directory, keyed
	// by project, so working trees of the same project share one cache.
	StrategyShared CacheStrategy = "shared"

	// StrategyLocal places the cache inside the repository under
	// .debtmap/cache.
	StrategyLocal CacheStrategy = "local"

	// StrategyCustom uses a caller-provided directory as the cache root.
	StrategyCustom CacheStrategy = "custom"
)

// cacheComponents are the namespaces swept by pruning, cleanup, and Clear.
// Components are open-ended: Put accepts any name, these are the ones
// maintenance walks.
var cacheComponents = []string{"call_graphs", "analysis", "metadata", "temp", "file_metrics", "test"}

// projectComponents are the namespaces cleared by ClearProject. Shared
// test fixtures survive a project clear.
var projectComponents = []string{"call_graphs", "analysis", "metadata", "temp", "file_metrics"}

// CacheLocation describes a resolved cache directory.
type CacheLocation struct {
	Strategy  CacheStrategy
	ProjectID string
	root      string
}

// ResolveLocation picks the cache directory for repoPath. The
// DEBTMAP_CACHE_DIR environment variable forces a custom root; otherwise
// the shared per-user location is used.
func ResolveLocation(repoPath string) (*CacheLocation, error) {
	if dir := os.Getenv("DEBTMAP_CACHE_DIR"); dir != "" {
		return ResolveCustomLocation(repoPath, dir)
	}
	return ResolveSharedLocation(repoPath)
}

// ResolveSharedLocation returns the per-user shared location for repoPath,
// namespaced by project ID so unrelated projects never collide.
func ResolveSharedLocation(repoPath string) (*CacheLocation, error) {
	scope := gap.NewScope(gap.User, "debtmap")
	base, err := scope.CacheDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user cache dir: %w", err)
	}
	id := projectID(repoPath)
	return &CacheLocation{
		Strategy:  StrategyShared,
		ProjectID: id,
		root:      filepath.Join(base, "shared", id),
	}, nil
}

// ResolveLocalLocation places the cache inside the project tree.
func ResolveLocalLocation(repoPath string) (*CacheLocation, error) {
	root := projectRoot(repoPath)
	return &CacheLocation{
		Strategy:  StrategyLocal,
		ProjectID: projectID(repoPath),
		root:      filepath.Join(root, ".debtmap", "cache"),
	}, nil
}

// ResolveCustomLocation uses dir as the cache root. The directory is used
// as-is, without a per-project subdirectory.
func ResolveCustomLocation(repoPath, dir string) (*CacheLocation, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir %s: %w", dir, err)
	}
	return &CacheLocation{
		Strategy:  StrategyCustom,
		ProjectID: projectID(repoPath),
		root:      abs,
	}, nil
}

// CachePath returns the cache root directory.
func (l *CacheLocation) CachePath() string { return l.root }

// IndexPath returns the path of the index file.
func (l *CacheLocation) IndexPath() string { return filepath.Join(l.root, indexFileName) }

// ComponentPath returns the directory backing one component namespace.
func (l *CacheLocation) ComponentPath(component string) string {
	return filepath.Join(l.root, component)
}

// EnsureDirectories creates the cache root and the standard component
// directories.
func (l *CacheLocation) EnsureDirectories() error {
	dirs := append([]string{l.root}, componentPaths(l)...)
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func componentPaths(l *CacheLocation) []string {
	paths := make([]string, 0, len(cacheComponents))
	for _, component := range cacheComponents {
		paths = append(paths, l.ComponentPath(component))
	}
	return paths
}

// projectID derives a stable identifier from the project root: the base
// name for readability plus a hash prefix for uniqueness.
func projectID(repoPath string) string {
	root := projectRoot(repoPath)
	sum := sha256.Sum256([]byte(root))
	return fmt.Sprintf("%s-%s", filepath.Base(root), hex.EncodeToString(sum[:])[:8])
}

// projectRoot canonicalizes repoPath to the enclosing git repository when
// one exists, so every working directory inside a project maps to the
// same cache.
func projectRoot(repoPath string) string {
	if repoPath == "" {
		repoPath = "."
	}
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return repoPath
	}
	if repo, err := gitcha.GitRepoForPath(abs); err == nil && repo != "" {
		return repo
	}
	return abs
}
