// cache.go — the per-worker-thread isolate cache.
//
// Every worker thread owns exactly one Cache. All of its methods are only
// ever called from task closures submitted to that thread via Pool.Submit,
// which is what makes "no locking" correct here — unlike the Catalog or
// Affinity Map, this map is thread-local, never shared, never locked.
// singleflight still earns its keep: it collapses the (rare, same-thread)
// case where an eviction-in-flight and a fresh GetOrCreate race for the
// same hostname, coalescing concurrent first-construction attempts into
// one winner.
package isolate

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// CodeLoader fetches the compiled script bundle for a code key. Consumed
// by Cache.GetOrCreate; implemented by internal/blobstore.Client in
// production and by a fake in tests.
type CodeLoader interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Cache is a per-thread, non-shared map from hostname to a live Isolate.
type Cache struct {
	engine  Engine
	loader  CodeLoader
	sfg     singleflight.Group
	entries map[string]Isolate
}

// NewCache builds a Cache that constructs isolates through engine, loading
// code bundles through loader.
func NewCache(engine Engine, loader CodeLoader) *Cache {
	return &Cache{
		engine:  engine,
		loader:  loader,
		entries: make(map[string]Isolate),
	}
}

// DeploymentView is the subset of catalog.Deployment the cache needs to
// build isolate options, kept narrow so this package has no import-cycle
// dependency on internal/catalog.
type DeploymentView struct {
	Hostname            string
	CodeKey             string
	EnvironmentVars     map[string]string
	MemoryLimit         int64
	TimeoutMilliseconds int64
}

// GetOrCreate returns the cached isolate for d.Hostname, constructing one
// if absent. On a code-load or construction failure, no entry is cached
// and the error is returned as *IsolateInitError so a later request may
// retry.
func (c *Cache) GetOrCreate(ctx context.Context, d DeploymentView) (Isolate, error) {
	if iso, ok := c.entries[d.Hostname]; ok {
		return iso, nil
	}

	v, err, _ := c.sfg.Do(d.Hostname, func() (interface{}, error) {
		if iso, ok := c.entries[d.Hostname]; ok {
			return iso, nil
		}

		code, err := c.loader.Fetch(ctx, d.CodeKey)
		if err != nil {
			return nil, &IsolateInitError{Hostname: d.Hostname, Err: fmt.Errorf("fetch code: %w", err)}
		}

		iso, err := c.engine.NewIsolate(Options{
			Code:                code,
			EnvironmentVars:     d.EnvironmentVars,
			MemoryLimit:         d.MemoryLimit,
			TimeoutMilliseconds: d.TimeoutMilliseconds,
		})
		if err != nil {
			return nil, &IsolateInitError{Hostname: d.Hostname, Err: fmt.Errorf("construct isolate: %w", err)}
		}

		c.entries[d.Hostname] = iso
		return iso, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Isolate), nil
}

// Evict drops and closes the entry for hostname, if present. Must run on
// the owning thread.
func (c *Cache) Evict(hostname string) {
	if iso, ok := c.entries[hostname]; ok {
		_ = iso.Close()
		delete(c.entries, hostname)
	}
}

// ClearAll drops and closes every entry. Called on pool-wide teardown.
func (c *Cache) ClearAll() {
	for host, iso := range c.entries {
		_ = iso.Close()
		delete(c.entries, host)
	}
}

// Len reports the number of live isolates. Used by tests.
func (c *Cache) Len() int { return len(c.entries) }
