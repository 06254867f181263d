package calibration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neutrons/PyVDrive-sub000/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// Loader brings calibration artifacts into the engine.
type Loader interface {
	// Find reports whether artifacts with these names are already loaded.
	Find(ctx context.Context, names Names) (bool, error)
	// Load loads the entry's files under the given names.
	Load(ctx context.Context, entry Entry, names Names) error
}

// CacheStats counts cache activity.
type CacheStats struct {
	Hits    int64
	Misses  int64
	Adopted int64
	Loads   int64
}

// Cache holds loaded calibration bundles keyed by effective date and bank
// count. Concurrent requests for one key share a single load.
type Cache struct {
	loader Loader
	logger *slog.Logger

	mu      sync.RWMutex
	bundles map[Key]*Bundle
	flight  singleflight.Group

	hits    int64
	misses  int64
	adopted int64
	loads   int64
}

// NewCache creates a cache backed by loader.
func NewCache(loader Loader, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{
		loader:  loader,
		logger:  logger,
		bundles: make(map[Key]*Bundle),
	}
}

// Get returns the cached bundle for key without loading.
func (c *Cache) Get(key Key) (*Bundle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bundles[key]
	return b, ok
}

// LoadAndCache returns the bundle for entry, loading it on first use.
// Artifacts already present in the engine under the expected names are
// adopted instead of reloaded.
func (c *Cache) LoadAndCache(ctx context.Context, entry Entry) (*Bundle, error) {
	key := entry.Key()
	if b, ok := c.Get(key); ok {
		atomic.AddInt64(&c.hits, 1)
		metrics.CalibrationCache.WithLabelValues("hit").Inc()
		return b, nil
	}

	// The shared load outlives any single caller; a cancelled caller stops
	// waiting without failing the others.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key.String(), func() (interface{}, error) {
		if b, ok := c.Get(key); ok {
			return b, nil
		}
		atomic.AddInt64(&c.misses, 1)
		b, err := c.load(loadCtx, entry)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.bundles[key] = b
		c.mu.Unlock()
		return b, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Bundle), nil
	}
}

func (c *Cache) load(ctx context.Context, entry Entry) (*Bundle, error) {
	key := entry.Key()
	geom, err := GetFocusGeometry(entry.BankCount)
	if err != nil {
		return nil, err
	}
	names := key.Names()
	b := &Bundle{Key: key, Entry: entry, Names: names, Geometry: geom, LoadedAt: time.Now()}

	found, err := c.loader.Find(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("looking up calibration %s: %w", key, err)
	}
	if found {
		atomic.AddInt64(&c.adopted, 1)
		metrics.CalibrationCache.WithLabelValues("adopted").Inc()
		c.logger.Info("adopted loaded calibration", "key", key.String(), "workspace", names.Calibration)
		b.Adopted = true
		return b, nil
	}

	metrics.CalibrationCache.WithLabelValues("miss").Inc()
	if err := c.loader.Load(ctx, entry, names); err != nil {
		return nil, fmt.Errorf("loading calibration %s: %w", key, err)
	}
	atomic.AddInt64(&c.loads, 1)
	c.logger.Info("loaded calibration", "key", key.String(), "file", entry.Files.Calibration)
	return b, nil
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:    atomic.LoadInt64(&c.hits),
		Misses:  atomic.LoadInt64(&c.misses),
		Adopted: atomic.LoadInt64(&c.adopted),
		Loads:   atomic.LoadInt64(&c.loads),
	}
}

// Resolver resolves run dates to cached calibration bundles.
type Resolver struct {
	table *Table
	cache *Cache
}

// NewResolver creates a resolver over an immutable table and a cache.
func NewResolver(table *Table, cache *Cache) *Resolver {
	return &Resolver{table: table, cache: cache}
}

// Resolve returns the calibration entry effective at runDate.
func (r *Resolver) Resolve(runDate time.Time, bankCount int) (Entry, error) {
	return r.table.Resolve(runDate, bankCount)
}

// Bundle resolves and loads the calibration effective at runDate.
func (r *Resolver) Bundle(ctx context.Context, runDate time.Time, bankCount int) (*Bundle, error) {
	entry, err := r.table.Resolve(runDate, bankCount)
	if err != nil {
		return nil, err
	}
	return r.cache.LoadAndCache(ctx, entry)
}
