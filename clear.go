package debtcache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc/pool"
)

// ValidateVersion checks the persisted index against this cache's tool
// version and clears the whole cache on mismatch. Cached artifacts are
// not portable across tool versions. Returns whether the cache was
// already valid.
func (c *SharedCache) ValidateVersion() (bool, error) {
	if !c.index.CheckVersionMismatch(c.toolVersion) {
		return true, nil
	}
	log.Info("Cache version mismatch, clearing cache",
		"version", c.toolVersion, "location", c.location.CachePath())
	if err := c.Clear(); err != nil {
		return false, err
	}
	return false, nil
}

// Clear removes every cached file in every component directory and
// resets the index.
func (c *SharedCache) Clear() error {
	entries, err := os.ReadDir(c.location.CachePath())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read cache directory: %w", err)
	}

	p := pool.New().WithMaxGoroutines(c.concurrency)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := c.location.ComponentPath(entry.Name())
		p.Go(func() { clearComponentFiles(dir) })
	}
	p.Wait()

	c.index.Clear(c.toolVersion)
	if err := c.saveIndex(); err != nil {
		return err
	}
	log.Info("Cache cleared", "location", c.location.CachePath())
	return nil
}

// ClearProject removes this project's cached files and resets the index,
// leaving the shared test component in place.
func (c *SharedCache) ClearProject() error {
	p := pool.New().WithMaxGoroutines(c.concurrency)
	for _, component := range projectComponents {
		dir := c.location.ComponentPath(component)
		p.Go(func() { clearComponentFiles(dir) })
	}
	p.Wait()

	c.index.Clear(c.toolVersion)
	return c.saveIndex()
}

// clearComponentFiles deletes the files in one component directory,
// descending one level into shard directories. Failures are logged and
// skipped so a single stuck file cannot abort a clear.
func clearComponentFiles(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Debug("Could not read component directory", "dir", dir, "err", err)
		}
		return
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			subs, err := os.ReadDir(path)
			if err != nil {
				log.Debug("Could not read shard directory", "dir", path, "err", err)
				continue
			}
			for _, sub := range subs {
				removeLogged(filepath.Join(path, sub.Name()))
			}
			// Shard directories go away once emptied.
			_ = os.Remove(path)
			continue
		}
		removeLogged(path)
	}
}

func removeLogged(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Debug("Could not delete cache file", "path", path, "err", err)
	}
}
