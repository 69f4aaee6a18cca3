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

// Package sampling decides which occurrences of a high-volume runtime
// activity are tracked.  A Sampler selects 1 in N start events; values
// derived from the tracked occurrences are multiplied by N to estimate
// the total across all occurrences.
//
// Scaling a single observed duration by N is extrapolation by
// replication.  It is unbiased for counts and sums when durations are
// independent of which occurrence is selected, and only an
// approximation otherwise.
package sampling // import "github.com/lightstep/runtime-events-go/lightstep/instrumentation/sampling"

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Rate is the sampling divisor N: one occurrence in every N is tracked.
type Rate int

const (
	OneEvent      Rate = 1
	TwoEvents     Rate = 2
	FiveEvents    Rate = 5
	TenEvents     Rate = 10
	TwentyEvents  Rate = 20
	FiftyEvents   Rate = 50
	HundredEvents Rate = 100
)

// Validate returns an error for a rate below one.
func (r Rate) Validate() error {
	if r < 1 {
		return fmt.Errorf("invalid sampling rate %d: must be at least 1", int(r))
	}
	return nil
}

// Sampler is safe for concurrent use.  A nil *Sampler tracks every
// occurrence.
type Sampler struct {
	every uint64
	next  atomic.Uint64
}

// New returns a Sampler tracking one in every r occurrences.  Rates
// below one are treated as OneEvent.
func New(r Rate) *Sampler {
	if r < 1 {
		r = OneEvent
	}
	return &Sampler{every: uint64(r)}
}

// ShouldSample reports whether the current occurrence is tracked.
// Concurrent callers each receive a distinct counter value, so
// exactly one of every N consecutive calls returns true.
func (s *Sampler) ShouldSample() bool {
	if s == nil || s.every == 1 {
		return true
	}
	return s.next.Add(1)%s.every == 0
}

// SampleEvery returns N.
func (s *Sampler) SampleEvery() int {
	if s == nil {
		return 1
	}
	return int(s.every)
}

// Scale multiplies a duration observed on a tracked occurrence by N.
func (s *Sampler) Scale(d time.Duration) time.Duration {
	return d * time.Duration(s.SampleEvery())
}

// ScaleFloat multiplies a value observed on a tracked occurrence by N.
func (s *Sampler) ScaleFloat(v float64) float64 {
	return v * float64(s.SampleEvery())
}
