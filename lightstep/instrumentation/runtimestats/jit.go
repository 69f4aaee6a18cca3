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
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/eventpair"
	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/ratio"
	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/runtimeevents"
	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/sampling"
)

var (
	dynamicTrue  = metric.WithAttributeSet(attribute.NewSet(attribute.Bool("dynamic", true)))
	dynamicFalse = metric.WithAttributeSet(attribute.NewSet(attribute.Bool("dynamic", false)))
)

// jitCollector measures how often the JIT compiler runs and how long
// compilation takes.  Dynamic methods are reported separately: only
// a limited number are cached, so heavy use causes recompilation.
type jitCollector struct {
	methods *eventpair.Correlator[uint64, struct{}]

	count    metric.Int64Counter
	time     metric.Float64Counter
	cpuRatio metric.Float64Gauge

	lock    sync.Mutex
	seconds float64
	cpu     *ratio.Ratio
}

var _ runtimeevents.Collector = (*jitCollector)(nil)

func newJITCollector(p collectorParams) (*jitCollector, error) {
	c := &jitCollector{
		methods: eventpair.New(eventpair.Config[uint64, struct{}]{
			StartID: eventMethodJittingStarted,
			StopID:  eventMethodLoadVerbose,
			Source:  runtimeevents.RuntimeSourceName,
			Key: func(e runtimeevents.Event) (uint64, bool) {
				return runtimeevents.Field[uint64](e, 0)
			},
			Sampler: sampling.New(p.collector.rate),
			TTL:     p.ttl,
			Clock:   p.clock,
		}),
		cpu: p.processCPU(),
	}

	var err error
	if c.count, err = p.meter.Int64Counter(
		"runtime.jit.methods",
		metric.WithUnit("{method}"),
		metric.WithDescription("Methods compiled by the JIT compiler"),
	); err != nil {
		return nil, err
	}
	if c.time, err = p.meter.Float64Counter(
		"runtime.jit.time",
		metric.WithUnit("s"),
		metric.WithDescription("Time spent in the JIT compiler"),
	); err != nil {
		return nil, err
	}
	if c.cpuRatio, err = p.meter.Float64Gauge(
		"runtime.jit.cpu.ratio",
		metric.WithUnit("1"),
		metric.WithDescription("Fraction of process CPU time spent in the JIT compiler"),
	); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *jitCollector) Name() string { return JIT }

func (c *jitCollector) Subscription() runtimeevents.Subscription {
	return runtimeevents.Subscription{
		Source:   runtimeevents.RuntimeSourceName,
		Level:    runtimeevents.LevelVerbose,
		Keywords: runtimeevents.KeywordJit,
	}
}

func (c *jitCollector) EvictExpired() int {
	return c.methods.EvictExpired()
}

func (c *jitCollector) ProcessEvent(e runtimeevents.Event) {
	res := c.methods.Observe(e)
	if res.Kind != eventpair.Completed {
		return
	}
	ctx := context.Background()

	dynamic := dynamicFalse
	if flags, ok := runtimeevents.Field[uint32](e, 5); ok && flags&dynamicMethodFlag == dynamicMethodFlag {
		dynamic = dynamicTrue
	}
	secs := res.Scaled().Seconds()
	c.count.Add(ctx, int64(res.SampleEvery()), dynamic)
	c.time.Add(ctx, secs, dynamic)

	c.lock.Lock()
	c.seconds += secs
	r := c.cpu.Sample(c.seconds)
	c.lock.Unlock()
	c.cpuRatio.Record(ctx, r)
}
