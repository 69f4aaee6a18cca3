// Copyright Lightstep Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pendingcache holds activities that have started and are
// waiting for their matching stop event.  Entries expire after a TTL
// so that lost stop events cannot grow the cache without bound.
// Eviction is time-based only: the cache never rejects an insert.
package pendingcache // import "github.com/lightstep/runtime-events-go/lightstep/instrumentation/pendingcache"

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/internal/fprint"
)

// DefaultTTL is how long a pending entry waits for its match.
const DefaultTTL = 30 * time.Second

const defaultShards = 16

// Entry is a pending value and the time it was inserted.
type Entry[V any] struct {
	Value    V
	Inserted time.Time
}

// Stats are cumulative counts of cache activity.
type Stats struct {
	// Puts counts inserts, including replacements.
	Puts uint64
	// Replaced counts inserts that discarded an existing entry.
	Replaced uint64
	// Hits counts successful TakeIfPresent calls.
	Hits uint64
	// Misses counts TakeIfPresent calls that found nothing or an
	// expired entry.
	Misses uint64
	// Evictions counts entries removed because they expired.
	Evictions uint64
}

type shard[K comparable, V any] struct {
	lock      sync.Mutex
	items     map[K]Entry[V]
	lastSweep time.Time
}

// Cache is safe for concurrent use.
type Cache[K comparable, V any] struct {
	ttl    time.Duration
	now    func() time.Time
	hash   func(K) uint64
	mask   uint64
	shards []shard[K, V]

	puts      atomic.Uint64
	replaced  atomic.Uint64
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New returns an empty cache.
func New[K comparable, V any](opts ...Option) *Cache[K, V] {
	cfg := newConfig(opts)

	n := 1
	for n < cfg.shards {
		n <<= 1
	}
	hash := fprint.For[K]()
	if cfg.hasher != nil {
		h, ok := cfg.hasher.(func(K) uint64)
		if ok {
			hash = h
		}
	}

	c := &Cache[K, V]{
		ttl:    cfg.ttl,
		now:    cfg.clock,
		hash:   hash,
		mask:   uint64(n - 1),
		shards: make([]shard[K, V], n),
	}
	start := c.now()
	perShard := cfg.capacity / n
	for i := range c.shards {
		c.shards[i].items = make(map[K]Entry[V], perShard)
		c.shards[i].lastSweep = start
	}
	return c
}

// TTL returns the configured time-to-live.
func (c *Cache[K, V]) TTL() time.Duration {
	return c.ttl
}

func (c *Cache[K, V]) shardFor(key K) *shard[K, V] {
	return &c.shards[c.hash(key)&c.mask]
}

// Put inserts or replaces the entry for key.  A replaced entry is
// discarded silently.  Put sweeps the key's shard when the shard has
// not been swept for one TTL, which bounds memory under one-sided
// traffic without a background goroutine.
func (c *Cache[K, V]) Put(key K, value V) {
	now := c.now()
	s := c.shardFor(key)

	s.lock.Lock()
	defer s.lock.Unlock()

	if now.Sub(s.lastSweep) >= c.ttl {
		c.sweepLocked(s, now)
	}
	if _, ok := s.items[key]; ok {
		c.replaced.Add(1)
	}
	s.items[key] = Entry[V]{Value: value, Inserted: now}
	c.puts.Add(1)
}

// TakeIfPresent removes and returns the entry for key.  Of any
// number of concurrent calls for the same key, and any concurrent
// eviction, at most one observes the entry.  An expired entry is
// removed and reported as absent.
func (c *Cache[K, V]) TakeIfPresent(key K) (Entry[V], bool) {
	now := c.now()
	s := c.shardFor(key)

	s.lock.Lock()
	defer s.lock.Unlock()

	e, ok := s.items[key]
	if !ok {
		c.misses.Add(1)
		return Entry[V]{}, false
	}
	delete(s.items, key)
	if c.expired(e, now) {
		c.evictions.Add(1)
		c.misses.Add(1)
		return Entry[V]{}, false
	}
	c.hits.Add(1)
	return e, true
}

// EvictExpired removes every entry inserted more than one TTL before
// now and returns the number removed.
func (c *Cache[K, V]) EvictExpired(now time.Time) int {
	var removed int
	for i := range c.shards {
		s := &c.shards[i]
		s.lock.Lock()
		removed += c.sweepLocked(s, now)
		s.lock.Unlock()
	}
	return removed
}

func (c *Cache[K, V]) expired(e Entry[V], now time.Time) bool {
	return now.Sub(e.Inserted) > c.ttl
}

func (c *Cache[K, V]) sweepLocked(s *shard[K, V], now time.Time) int {
	var removed int
	for k, e := range s.items {
		if c.expired(e, now) {
			delete(s.items, k)
			removed++
		}
	}
	s.lastSweep = now
	c.evictions.Add(uint64(removed))
	return removed
}

// Len returns the number of entries, including expired entries not
// yet swept.
func (c *Cache[K, V]) Len() int {
	var n int
	for i := range c.shards {
		s := &c.shards[i]
		s.lock.Lock()
		n += len(s.items)
		s.lock.Unlock()
	}
	return n
}

// Stats returns a snapshot of the cumulative counters.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Puts:      c.puts.Load(),
		Replaced:  c.replaced.Load(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Run evicts expired entries every interval until ctx is done.  An
// interval of zero uses the TTL.  Run is optional; Put already
// sweeps opportunistically.
func (c *Cache[K, V]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.EvictExpired(c.now())
		}
	}
}
