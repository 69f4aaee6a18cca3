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

package eventpair // import "github.com/lightstep/runtime-events-go/lightstep/instrumentation/eventpair"

import (
	"time"

	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/pendingcache"
	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/runtimeevents"
	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/sampling"
)

// Kind classifies the outcome of observing one event.
type Kind int

const (
	// NoMatch means the event changed nothing.
	NoMatch Kind = iota
	// Started means a start event was recorded as pending.
	Started
	// Completed means a stop event matched a pending start.
	Completed
)

func (k Kind) String() string {
	switch k {
	case Started:
		return "Started"
	case Completed:
		return "Completed"
	default:
		return "NoMatch"
	}
}

// Result is the outcome of Observe.  Duration and Data are set only
// for Completed.
type Result[D any] struct {
	Kind     Kind
	Duration time.Duration
	Data     D

	every int
}

// SampleEvery is the sampling divisor in effect when the result was
// produced.
func (r Result[D]) SampleEvery() int {
	if r.every < 1 {
		return 1
	}
	return r.every
}

// Scaled returns Duration multiplied by the sampling divisor, the
// estimated total for all occurrences the tracked one stands for.
func (r Result[D]) Scaled() time.Duration {
	return r.Duration * time.Duration(r.SampleEvery())
}

// Config describes one start/stop pair.
type Config[K comparable, D any] struct {
	// StartID and StopID are the event IDs beginning and ending the
	// activity.
	StartID int
	StopID  int
	// Source, when set, restricts matching to events of this source.
	Source string

	// Key extracts the correlation key.  Returning false means the
	// event is malformed and yields NoMatch.
	Key func(runtimeevents.Event) (K, bool)
	// Data extracts the value carried from start to stop.  Optional.
	Data func(runtimeevents.Event) (D, bool)

	// Sampler selects which start events are tracked.  Nil tracks
	// every start.
	Sampler *sampling.Sampler

	// TTL bounds how long a start waits for its stop.  Zero means
	// pendingcache.DefaultTTL.
	TTL time.Duration
	// InitialCapacity preallocates the pending cache.
	InitialCapacity int
	// Clock stamps events with a zero Timestamp and drives expiry.
	// Nil means time.Now.
	Clock func() time.Time
}

type pending[D any] struct {
	start time.Time
	data  D
}

// Correlator is safe for concurrent use by any number of event
// producers.
type Correlator[K comparable, D any] struct {
	cfg     Config[K, D]
	now     func() time.Time
	pending *pendingcache.Cache[K, pending[D]]
}

// New returns a Correlator for cfg.  It panics if cfg.Key is nil.
func New[K comparable, D any](cfg Config[K, D]) *Correlator[K, D] {
	if cfg.Key == nil {
		panic("eventpair: nil key function")
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Correlator[K, D]{
		cfg: cfg,
		now: now,
		pending: pendingcache.New[K, pending[D]](
			pendingcache.WithTTL(cfg.TTL),
			pendingcache.WithInitialCapacity(cfg.InitialCapacity),
			pendingcache.WithClock(now),
		),
	}
}

// ConstantKey pairs starts and stops that have no shared key and
// never overlap, so the correlator holds at most one pending start.
func ConstantKey(runtimeevents.Event) (struct{}, bool) {
	return struct{}{}, true
}

// Observe classifies e and updates the pending set.
func (c *Correlator[K, D]) Observe(e runtimeevents.Event) Result[D] {
	every := c.cfg.Sampler.SampleEvery()
	if c.cfg.Source != "" && e.Source != c.cfg.Source {
		return Result[D]{every: every}
	}

	switch e.ID {
	case c.cfg.StartID:
		key, ok := c.cfg.Key(e)
		if !ok {
			return Result[D]{every: every}
		}
		var data D
		if c.cfg.Data != nil {
			if data, ok = c.cfg.Data(e); !ok {
				return Result[D]{every: every}
			}
		}
		if !c.cfg.Sampler.ShouldSample() {
			return Result[D]{every: every}
		}
		c.pending.Put(key, pending[D]{start: c.stamp(e), data: data})
		return Result[D]{Kind: Started, every: every}

	case c.cfg.StopID:
		key, ok := c.cfg.Key(e)
		if !ok {
			return Result[D]{every: every}
		}
		entry, ok := c.pending.TakeIfPresent(key)
		if !ok {
			return Result[D]{every: every}
		}
		d := c.stamp(e).Sub(entry.Value.start)
		if d < 0 {
			d = 0
		}
		return Result[D]{
			Kind:     Completed,
			Duration: d,
			Data:     entry.Value.data,
			every:    every,
		}
	}
	return Result[D]{every: every}
}

func (c *Correlator[K, D]) stamp(e runtimeevents.Event) time.Time {
	if e.Timestamp.IsZero() {
		return c.now()
	}
	return e.Timestamp
}

// EvictExpired removes pending starts older than the TTL and returns
// how many were removed.
func (c *Correlator[K, D]) EvictExpired() int {
	return c.pending.EvictExpired(c.now())
}

// Pending returns the number of starts awaiting their stop.
func (c *Correlator[K, D]) Pending() int {
	return c.pending.Len()
}

// CacheStats returns the pending cache counters.
func (c *Correlator[K, D]) CacheStats() pendingcache.Stats {
	return c.pending.Stats()
}

// SampleEvery returns the sampling divisor.
func (c *Correlator[K, D]) SampleEvery() int {
	return c.cfg.Sampler.SampleEvery()
}
