// cacheset.go ties one Cache to each Pool worker thread and implements
// catalog.Evictor: posting an eviction task to every thread without
// blocking on completion.
package isolate

// CacheSet owns one Cache per worker thread and the Pool that runs them.
type CacheSet struct {
	pool   *Pool
	caches []*Cache
}

// NewCacheSet builds one Cache per thread in pool, each backed by engine
// and loader.
func NewCacheSet(pool *Pool, engine Engine, loader CodeLoader) *CacheSet {
	caches := make([]*Cache, pool.Size())
	for i := range caches {
		caches[i] = NewCache(engine, loader)
	}
	return &CacheSet{pool: pool, caches: caches}
}

// Cache returns the Cache owned by threadIndex. Callers must only invoke
// its methods from within a task submitted to that same thread.
func (cs *CacheSet) Cache(threadIndex int) *Cache {
	return cs.caches[threadIndex]
}

// EvictAll posts an eviction task for hostname to every worker thread. It
// implements catalog.Evictor. The Subscriber does not block on completion
// — at-least-once eviction is guaranteed eventually as each thread's queue
// drains to this task.
func (cs *CacheSet) EvictAll(hostname string) {
	for i, cache := range cs.caches {
		c := cache
		_ = cs.pool.Submit(i, func() {
			c.Evict(hostname)
		})
	}
}

// ShutdownAll posts a clear-all task to every worker thread, then shuts
// down the pool.
func (cs *CacheSet) ShutdownAll() {
	for i, cache := range cs.caches {
		c := cache
		_ = cs.pool.Submit(i, func() {
			c.ClearAll()
		})
	}
	cs.pool.Shutdown()
}
