package debtcache

// Options configures a shared cache.
type Options struct {
	CacheDir          string
	Local             bool
	Pruner            *AutoPruner
	DisableAutoPrune  bool
	DisableBackground bool
	ToolVersion       string
	MaxCacheSize      int64
	CleanupThreshold  float64
	Concurrency       int
}

// Option is a functional option for configuring New.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		ToolVersion: Version,
		Concurrency: DefaultConcurrency,
	}
}

// WithCacheDir overrides the cache directory, bypassing the shared
// per-project location.
func WithCacheDir(dir string) Option {
	return func(o *Options) { o.CacheDir = dir }
}

// WithLocalCache places the cache inside the repository instead of the
// shared per-user location.
func WithLocalCache() Option {
	return func(o *Options) { o.Local = true }
}

// WithPruner sets explicit pruning limits instead of reading them from
// the environment.
func WithPruner(p *AutoPruner) Option {
	return func(o *Options) { o.Pruner = p }
}

// WithoutPruning disables automatic pruning entirely. The cache falls
// back to a size-triggered cleanup on insert.
func WithoutPruning() Option {
	return func(o *Options) {
		o.DisableAutoPrune = true
		o.Pruner = nil
	}
}

// WithoutBackgroundPruning keeps pruning on the insert path. Useful for
// short-lived processes that would exit before a goroutine finishes.
func WithoutBackgroundPruning() Option {
	return func(o *Options) { o.DisableBackground = true }
}

// WithToolVersion stamps cache entries with a custom version string.
// Embedding tools pass their own release version so their caches
// invalidate on upgrade.
func WithToolVersion(v string) Option {
	return func(o *Options) {
		if v != "" {
			o.ToolVersion = v
		}
	}
}

// WithMaxCacheSize caps the cleanup fallback size when pruning is
// disabled.
func WithMaxCacheSize(n int64) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxCacheSize = n
		}
	}
}

// WithCleanupThreshold sets the fill fraction past which an insert
// triggers the cleanup fallback.
func WithCleanupThreshold(f float64) Option {
	return func(o *Options) {
		if f > 0 && f <= 1 {
			o.CleanupThreshold = f
		}
	}
}

// WithConcurrency sets the number of parallel workers for file sweeps.
func WithConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}
