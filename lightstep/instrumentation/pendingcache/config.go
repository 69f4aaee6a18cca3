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

package pendingcache

import "time"

// config contains optional settings for a Cache.
type config struct {
	ttl      time.Duration
	capacity int
	shards   int
	clock    func() time.Time
	// hasher is a func(K) uint64, checked against K in New.
	hasher any
}

// Option supports configuring optional settings for a Cache.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

// WithTTL sets how long an entry may wait for its match.
// Non-positive values leave the default of DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return optionFunc(func(c *config) {
		if ttl > 0 {
			c.ttl = ttl
		}
	})
}

// WithInitialCapacity preallocates room for n entries.  It is a
// hint: the cache grows beyond it under load.
func WithInitialCapacity(n int) Option {
	return optionFunc(func(c *config) {
		if n > 0 {
			c.capacity = n
		}
	})
}

// WithShards sets the number of independently locked shards,
// rounded up to a power of two.
func WithShards(n int) Option {
	return optionFunc(func(c *config) {
		if n > 0 {
			c.shards = n
		}
	})
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(c *config) {
		if now != nil {
			c.clock = now
		}
	})
}

// WithHasher sets the function used to choose a shard.  The
// argument must be a func(K) uint64 for the cache's key type;
// anything else is ignored.
func WithHasher[K comparable](h func(K) uint64) Option {
	return optionFunc(func(c *config) {
		if h != nil {
			c.hasher = h
		}
	})
}

func newConfig(opts []Option) config {
	c := config{
		ttl:    DefaultTTL,
		shards: defaultShards,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt.apply(&c)
	}
	return c
}
