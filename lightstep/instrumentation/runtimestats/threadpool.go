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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/eventpair"
	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/runtimeevents"
	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/sampling"
)

const (
	// Work items are dequeued quickly and their IDs are reused, so
	// the pending set stays small.
	schedulingCapacity = 512
)

// schedulingCollector measures how many work items are queued to the
// thread pool and how long they wait before a thread picks them up.
type schedulingCollector struct {
	items *eventpair.Correlator[int64, struct{}]

	scheduled metric.Int64Counter
	delay     metric.Float64Histogram
}

var _ runtimeevents.Collector = (*schedulingCollector)(nil)

func newSchedulingCollector(p collectorParams) (*schedulingCollector, error) {
	c := &schedulingCollector{
		items: eventpair.New(eventpair.Config[int64, struct{}]{
			StartID: eventThreadPoolEnqueueWork,
			StopID:  eventThreadPoolDequeueWork,
			Source:  runtimeevents.FrameworkSourceName,
			Key: func(e runtimeevents.Event) (int64, bool) {
				return runtimeevents.Field[int64](e, 0)
			},
			Sampler:         sampling.New(p.collector.rate),
			TTL:             p.ttl,
			InitialCapacity: schedulingCapacity,
			Clock:           p.clock,
		}),
	}

	var err error
	if c.scheduled, err = p.meter.Int64Counter(
		"runtime.threadpool.scheduled",
		metric.WithUnit("{work_item}"),
		metric.WithDescription("Work items queued to the thread pool"),
	); err != nil {
		return nil, err
	}
	if c.delay, err = p.meter.Float64Histogram(
		"runtime.threadpool.schedule.delay",
		metric.WithUnit("s"),
		metric.WithDescription("Time between queueing a work item and a thread starting it"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *schedulingCollector) Name() string { return ThreadPoolScheduling }

func (c *schedulingCollector) Subscription() runtimeevents.Subscription {
	return runtimeevents.Subscription{
		Source:   runtimeevents.FrameworkSourceName,
		Level:    runtimeevents.LevelVerbose,
		Keywords: runtimeevents.KeywordThreadPool,
	}
}

func (c *schedulingCollector) EvictExpired() int {
	return c.items.EvictExpired()
}

func (c *schedulingCollector) ProcessEvent(e runtimeevents.Event) {
	res := c.items.Observe(e)
	switch res.Kind {
	case eventpair.Started:
		c.scheduled.Add(context.Background(), int64(res.SampleEvery()))
	case eventpair.Completed:
		c.delay.Record(context.Background(), res.Scaled().Seconds())
	}
}

// threadPoolCollector reports the size of the worker and IO thread
// pools and why the pool was resized.
type threadPoolCollector struct {
	threads     metric.Int64Gauge
	ioThreads   metric.Int64Gauge
	adjustments metric.Int64Counter

	reasonSets []attribute.Set
}

var _ runtimeevents.Collector = (*threadPoolCollector)(nil)

func newThreadPoolCollector(p collectorParams) (*threadPoolCollector, error) {
	c := &threadPoolCollector{
		reasonSets: enumSets("reason", adjustmentReasons),
	}

	var err error
	if c.threads, err = p.meter.Int64Gauge(
		"runtime.threadpool.threads",
		metric.WithUnit("{thread}"),
		metric.WithDescription("Worker threads in the thread pool"),
	); err != nil {
		return nil, err
	}
	if c.ioThreads, err = p.meter.Int64Gauge(
		"runtime.threadpool.io.threads",
		metric.WithUnit("{thread}"),
		metric.WithDescription("IO completion threads in the thread pool"),
	); err != nil {
		return nil, err
	}
	if c.adjustments, err = p.meter.Int64Counter(
		"runtime.threadpool.adjustments",
		metric.WithUnit("{adjustment}"),
		metric.WithDescription("Thread pool resizes by reason"),
	); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *threadPoolCollector) Name() string { return ThreadPool }

func (c *threadPoolCollector) Subscription() runtimeevents.Subscription {
	return runtimeevents.Subscription{
		Source:   runtimeevents.RuntimeSourceName,
		Level:    runtimeevents.LevelInformational,
		Keywords: runtimeevents.KeywordThreading,
	}
}

func (c *threadPoolCollector) ProcessEvent(e runtimeevents.Event) {
	ctx := context.Background()

	switch e.ID {
	case eventThreadPoolAdjust:
		if n, ok := runtimeevents.Field[uint32](e, 1); ok {
			c.threads.Record(ctx, int64(n))
		}
		if reason, ok := runtimeevents.Field[uint32](e, 2); ok {
			c.adjustments.Add(ctx, 1, metric.WithAttributeSet(enumSet(c.reasonSets, "reason", adjustmentReasons, reason)))
		}

	case eventIOThreadCreate, eventIOThreadTerminate, eventIOThreadRetire, eventIOThreadUnretire:
		if n, ok := runtimeevents.Field[uint32](e, 1); ok {
			c.ioThreads.Record(ctx, int64(n))
		}
	}
}
