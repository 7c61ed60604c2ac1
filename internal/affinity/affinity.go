// Package affinity implements the host→worker-thread affinity map: a
// read-mostly shared lookup that pins each hostname to a fixed thread index
// for the process lifetime, assigned lazily and randomly on first sighting.
//
// The discipline is shared read, then an exclusive insert-if-absent with
// first-committed-wins tie-break: concurrent first-sightings of the same
// host must converge on one winning thread index, never one each.
package affinity

import (
	"crypto/rand"
	"math/big"
	"sync"
)

// Map is the shared hostname → worker-thread-index table. The zero value
// is not usable; use New.
type Map struct {
	mu       sync.RWMutex
	byHost   map[string]int
	poolSize int
}

// New returns an empty Map that assigns indices in [0, poolSize).
func New(poolSize int) *Map {
	if poolSize < 1 {
		panic("affinity: poolSize must be >= 1")
	}
	return &Map{byHost: make(map[string]int), poolSize: poolSize}
}

// Resolve returns the thread index bound to host, assigning one at random
// if this is the first sighting. Concurrent first-sightings of the same
// host converge on a single winning index: the first writer to acquire the
// exclusive lock commits, and every other concurrent caller discards its
// freshly drawn index in favor of the committed one.
func (m *Map) Resolve(host string) (int, error) {
	m.mu.RLock()
	idx, ok := m.byHost[host]
	m.mu.RUnlock()
	if ok {
		return idx, nil
	}

	drawn, err := randIndex(m.poolSize)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.byHost[host]; ok {
		return idx, nil // someone else committed first; discard drawn
	}
	m.byHost[host] = drawn
	return drawn, nil
}

// Remove drops host's binding. The catalog Subscriber does not call it, so
// a binding stays in place after its hostname is removed from the
// deployment catalog.
func (m *Map) Remove(host string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byHost, host)
}

// Len reports the number of bound hostnames.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byHost)
}

// randIndex draws a uniform index in [0, n) from a cryptographically
// adequate source rather than a hash function, so a hostname chosen to
// collide under a known hash cannot be used to hotspot one thread.
func randIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
