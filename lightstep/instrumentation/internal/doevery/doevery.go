// Copyright The OpenTelemetry Authors
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

// package doevery provides per-key rate-limiting, used to keep a
// misbehaving event stream from flooding the error log.
package doevery

import (
	"fmt"
	"sync"
	"time"
)

// Limiter rate limits calls to Do for each key independently.
//
// Limiter is safe for concurrent use.  The zero value is not usable,
// call New.
type Limiter struct {
	period time.Duration
	now    func() time.Time

	// mu protects below.
	mu sync.Mutex

	// mostRecent maintains the last time a function was invoked
	// for each key.
	mostRecent map[string]time.Time

	// suppressed counts calls dropped since the last invocation.
	suppressed map[string]int
}

// New returns a Limiter that invokes at most once per period per key.
func New(period time.Duration) *Limiter {
	return newWithClock(period, time.Now)
}

func newWithClock(period time.Duration, now func() time.Time) *Limiter {
	if period < 0 {
		panic(fmt.Sprintf("negative duration unsupported: %v", period))
	}
	return &Limiter{
		period:     period,
		now:        now,
		mostRecent: map[string]time.Time{},
		suppressed: map[string]int{},
	}
}

// Do calls f unless f was called for the same key within the
// period.  f receives the number of calls suppressed since the
// previous invocation for this key, which lets a logger report
// "and N more".
//
// Example usage:
//
//	lim := doevery.New(time.Second)
//	for _, err := range errs {
//		lim.Do("gc", func(dropped int) {
//			log.Error(err, "gc collector failed", "suppressed", dropped)
//		})
//	}
func (l *Limiter) Do(key string, f func(suppressed int)) {
	invoke, dropped := func() (bool, int) {
		l.mu.Lock()
		defer l.mu.Unlock()

		now := l.now()
		prev, ok := l.mostRecent[key]

		if ok && now.Sub(prev) < l.period {
			l.suppressed[key]++
			return false, 0
		}
		l.mostRecent[key] = now
		dropped := l.suppressed[key]
		delete(l.suppressed, key)
		return true, dropped
	}()

	if !invoke {
		return
	}

	// Invoke outside the lock, we already updated the time.
	f(dropped)
}
