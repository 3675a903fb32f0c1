package debtcache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// MigrateFromLocal copies a legacy cache directory into this cache's
// location. A missing source is a no-op, so callers can attempt
// migration unconditionally. Symlinks and other special entries are
// skipped.
func (c *SharedCache) MigrateFromLocal(localPath string) error {
	if _, err := os.Stat(localPath); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	log.Info("Migrating cache", "from", localPath, "to", c.location.CachePath())

	entries, err := os.ReadDir(localPath)
	if err != nil {
		return fmt.Errorf("read legacy cache %s: %w", localPath, err)
	}
	for _, entry := range entries {
		src := filepath.Join(localPath, entry.Name())
		dst := filepath.Join(c.location.CachePath(), entry.Name())
		switch {
		case entry.Type().IsRegular():
			if err := copyFile(src, dst); err != nil {
				return err
			}
		case entry.IsDir():
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dst, err)
			}
			if err := copyDir(src, dst); err != nil {
				return err
			}
		}
	}

	log.Info("Cache migration completed", "location", c.location.CachePath())
	return nil
}

func copyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read directory %s: %w", src, err)
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		switch {
		case entry.Type().IsRegular():
			if err := copyFile(srcPath, dstPath); err != nil {
				return err
			}
		case entry.IsDir():
			if err := os.MkdirAll(dstPath, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dstPath, err)
			}
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}
