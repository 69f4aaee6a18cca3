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

package runtimestats // import "github.com/lightstep/runtime-events-go/lightstep/instrumentation/runtimestats"

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/eventpair"
	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/runtimeevents"
	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/sampling"
)

// contentionCollector measures how often threads block on a
// contended lock, and for how long.  A thread waits on at most one
// lock at a time, so the thread ID pairs the events.
type contentionCollector struct {
	waits *eventpair.Correlator[int64, struct{}]

	count metric.Int64Counter
	time  metric.Float64Counter
}

var _ runtimeevents.Collector = (*contentionCollector)(nil)

func newContentionCollector(p collectorParams) (*contentionCollector, error) {
	c := &contentionCollector{
		waits: eventpair.New(eventpair.Config[int64, struct{}]{
			StartID: eventContentionStart,
			StopID:  eventContentionStop,
			Source:  runtimeevents.RuntimeSourceName,
			Key: func(e runtimeevents.Event) (int64, bool) {
				return e.OSThreadID, true
			},
			Sampler: sampling.New(p.collector.rate),
			TTL:     p.ttl,
			Clock:   p.clock,
		}),
	}

	var err error
	if c.count, err = p.meter.Int64Counter(
		"runtime.lock.contentions",
		metric.WithUnit("{contention}"),
		metric.WithDescription("Times a thread blocked on a contended lock"),
	); err != nil {
		return nil, err
	}
	if c.time, err = p.meter.Float64Counter(
		"runtime.lock.contention.time",
		metric.WithUnit("s"),
		metric.WithDescription("Time threads spent blocked on contended locks"),
	); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *contentionCollector) Name() string { return Contention }

func (c *contentionCollector) Subscription() runtimeevents.Subscription {
	return runtimeevents.Subscription{
		Source:   runtimeevents.RuntimeSourceName,
		Level:    runtimeevents.LevelInformational,
		Keywords: runtimeevents.KeywordContention,
	}
}

func (c *contentionCollector) EvictExpired() int {
	return c.waits.EvictExpired()
}

func (c *contentionCollector) ProcessEvent(e runtimeevents.Event) {
	res := c.waits.Observe(e)
	switch res.Kind {
	case eventpair.Started:
		c.count.Add(context.Background(), int64(res.SampleEvery()))
	case eventpair.Completed:
		c.time.Add(context.Background(), res.Scaled().Seconds())
	}
}
