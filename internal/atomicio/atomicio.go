// Package atomicio implements atomic file writes for cache directories
// shared between concurrent processes.
//
// Writes go to a uniquely named temporary file in the target directory and
// are published with a rename, so readers never observe partial content.
// Transient filesystem errors are retried with exponential backoff.
package atomicio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// DefaultMaxAttempts bounds how often a transient failure is retried.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the backoff delay before the first retry.
	DefaultBaseDelay = 10 * time.Millisecond
)

// tempCounter disambiguates temp files created in the same nanosecond.
var tempCounter atomic.Uint64

// Retry runs filesystem operations with bounded exponential backoff.
type Retry struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetry returns the retry policy used for cache writes.
func DefaultRetry() Retry {
	return Retry{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// Do runs op, retrying transient errors until MaxAttempts is reached.
// Non-transient errors fail immediately.
func (r Retry) Do(name string, op func() error) error {
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if attempt >= r.MaxAttempts-1 || !retryable(err) {
			return fmt.Errorf("%s failed after %d attempts: %w", name, attempt+1, err)
		}
		time.Sleep(r.delay(attempt))
	}
}

// delay grows exponentially with a fixed 25% spread on top, so concurrent
// writers hitting the same directory back off on slightly different
// schedules without needing a random source.
func (r Retry) delay(attempt int) time.Duration {
	d := r.BaseDelay << attempt
	return d + d/4
}

// retryable reports whether err looks like a transient race with another
// process (directory created underneath us, file swapped away, permission
// flaps on network filesystems, interrupted syscalls).
func retryable(err error) bool {
	return errors.Is(err, fs.ErrExist) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, syscall.EINTR)
}

// WriteFile atomically writes data to target. The temporary file is created
// in the target's directory so the final rename stays on one filesystem.
func WriteFile(target string, data []byte) error {
	if err := ValidatePath(target); err != nil {
		return err
	}
	temp := TempPath(target)
	if err := ValidatePath(temp); err != nil {
		return err
	}
	if err := MkdirAll(filepath.Dir(target)); err != nil {
		return err
	}
	if tempDir := filepath.Dir(temp); tempDir != filepath.Dir(target) {
		if err := MkdirAll(tempDir); err != nil {
			return err
		}
	}

	retry := DefaultRetry()
	if err := retry.Do("write temp file", func() error {
		return os.WriteFile(temp, data, 0o644)
	}); err != nil {
		parent := filepath.Dir(temp)
		return fmt.Errorf("failed to write temp file %s (size %d, parent exists %t): %w",
			temp, len(data), dirExists(parent), err)
	}

	if err := retry.Do("rename temp file", func() error {
		return os.Rename(temp, target)
	}); err != nil {
		return fmt.Errorf("failed to rename %s to %s (temp exists %t, target parent exists %t, same filesystem %t): %w",
			temp, target, fileExists(temp), dirExists(filepath.Dir(target)), sameFilesystem(temp, target), err)
	}
	return nil
}

// TempPath returns a collision-safe temporary name next to target,
// unique across processes, goroutines, and repeated calls.
func TempPath(target string) string {
	return fmt.Sprintf("%s.tmp.%d.%d.%d", target, os.Getpid(), time.Now().UnixNano(), tempCounter.Add(1))
}

// ValidatePath rejects paths that are unsafe for atomic writes: relative
// paths (the rename target would depend on the working directory) and
// paths containing parent directory references.
func ValidatePath(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("path must be absolute for atomic operations: %s", path)
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path contains parent directory references: %s", path)
		}
	}
	return nil
}

// MkdirAll creates dir and its parents, tolerating concurrent creation by
// other processes.
func MkdirAll(dir string) error {
	if info, err := os.Stat(dir); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("path exists but is not a directory: %s", dir)
		}
		return nil
	}
	err := DefaultRetry().Do("create directories", func() error {
		if err := os.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return err
		}
		return nil
	})
	if err != nil {
		cwd, _ := os.Getwd()
		return fmt.Errorf("failed to create directory %s (cwd %s): %w", dir, cwd, err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// sameFilesystem reports whether the parents of a and b are on the same
// device. Rename is only atomic within one filesystem, so this is the
// first thing to check when a rename fails.
func sameFilesystem(a, b string) bool {
	var sa, sb unix.Stat_t
	if err := unix.Stat(filepath.Dir(a), &sa); err != nil {
		return true
	}
	if err := unix.Stat(filepath.Dir(b), &sb); err != nil {
		return true
	}
	return sa.Dev == sb.Dev
}
