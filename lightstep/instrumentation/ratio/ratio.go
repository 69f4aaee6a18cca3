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

// Package ratio derives the fraction of elapsed time consumed by a
// resource from two monotonically increasing readings: the resource
// consumed and the time elapsed, in the same unit.
//
// Each Sample compares the readings with those of the previous
// Sample and returns the consumed delta divided by the elapsed
// delta, clamped to [0, 1].  When the elapsed reading did not
// advance, Sample returns the previous ratio and keeps the stored
// readings, so the consumption is attributed to the next interval.
// A failed (NaN) initial reading is replaced by the first valid one.
package ratio // import "github.com/lightstep/runtime-events-go/lightstep/instrumentation/ratio"

import (
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/cputime"
)

// Ratio is safe for concurrent use, though one reporting path per
// Ratio is the expected use.
type Ratio struct {
	elapsed func() float64

	lock         sync.Mutex
	lastConsumed float64
	lastElapsed  float64
	last         float64
}

// New returns a Ratio whose denominator is read from elapsed.  The
// first interval begins now, with nothing consumed.
func New(elapsed func() float64) *Ratio {
	return &Ratio{
		elapsed:     elapsed,
		lastElapsed: elapsed(),
	}
}

// WallClock returns a Ratio of consumed seconds to seconds of wall
// time read from clock.  A nil clock means time.Now.
func WallClock(clock func() time.Time) *Ratio {
	if clock == nil {
		clock = time.Now
	}
	origin := clock()
	return New(func() float64 {
		return clock().Sub(origin).Seconds()
	})
}

// ProcessTime returns a Ratio of consumed seconds to seconds of
// process uptime.
func ProcessTime() *Ratio {
	return New(func() float64 {
		return cputime.Uptime().Seconds()
	})
}

// ProcessTotalCPU returns a Ratio of consumed seconds to the user
// plus system CPU seconds used by this process.  Failed reads are
// reported to h, rate limited; a nil h means the global handler.
func ProcessTotalCPU(h otel.ErrorHandler) *Ratio {
	return New(cputime.CPUSecondsReader(h))
}

// Sample returns the fraction of the interval since the previous
// Sample that consumed accounts for.
func (r *Ratio) Sample(consumed float64) float64 {
	now := r.elapsed()

	r.lock.Lock()
	defer r.lock.Unlock()

	if math.IsNaN(r.lastElapsed) || math.IsNaN(r.lastConsumed) {
		// No usable origin yet: this reading becomes the baseline.
		if !math.IsNaN(now) && !math.IsNaN(consumed) {
			r.lastElapsed = now
			r.lastConsumed = consumed
		}
		return r.last
	}
	dt := now - r.lastElapsed
	if !(dt > 0) {
		return r.last
	}
	v := (consumed - r.lastConsumed) / dt
	if math.IsNaN(v) {
		return r.last
	}
	r.lastConsumed = consumed
	r.lastElapsed = now
	r.last = clamp(v)
	return r.last
}

// Last returns the most recent ratio.
func (r *Ratio) Last() float64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.last
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
