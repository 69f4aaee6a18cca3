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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/eventpair"
	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/ratio"
	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/runtimeevents"
)

// collectorParams are shared by every collector constructor.
type collectorParams struct {
	meter     metric.Meter
	collector collectorSpec
	ttl       time.Duration
	clock     func() time.Time

	// Denominators of the CPU and pause ratios.
	processCPU  func() *ratio.Ratio
	processTime func() *ratio.Ratio
}

// expirer is implemented by collectors holding pending starts.
type expirer interface {
	EvictExpired() int
}

type gcInfo struct {
	generation uint32
	kind       uint32
}

var (
	heapSOH = metric.WithAttributeSet(attribute.NewSet(attribute.String("heap", "soh")))
	heapLOH = metric.WithAttributeSet(attribute.NewSet(attribute.String("heap", "loh")))

	generationSets = []metric.MeasurementOption{
		metric.WithAttributeSet(attribute.NewSet(attribute.String("generation", "0"))),
		metric.WithAttributeSet(attribute.NewSet(attribute.String("generation", "1"))),
		metric.WithAttributeSet(attribute.NewSet(attribute.String("generation", "2"))),
		metric.WithAttributeSet(attribute.NewSet(attribute.String("generation", "loh"))),
	}
)

// gcCollector measures the frequency and duration of garbage
// collections, the time the runtime is suspended for them, heap
// sizes, and allocation volume.
type gcCollector struct {
	collection *eventpair.Correlator[uint32, gcInfo]
	pause      *eventpair.Correlator[struct{}, struct{}]

	collectionDuration metric.Float64Histogram
	pauseDuration      metric.Float64Histogram
	reasons            metric.Int64Counter
	heapSize           metric.Int64Gauge
	finalizationQueue  metric.Int64Gauge
	pinnedObjects      metric.Int64Gauge
	allocated          metric.Int64Counter
	cpuRatio           metric.Float64Gauge
	pauseRatio         metric.Float64Gauge

	reasonSets []attribute.Set

	lock              sync.Mutex
	collectionSeconds float64
	pauseSeconds      float64
	cpu               *ratio.Ratio
	wall              *ratio.Ratio
}

var _ runtimeevents.Collector = (*gcCollector)(nil)

func newGCCollector(p collectorParams) (*gcCollector, error) {
	c := &gcCollector{
		collection: eventpair.New(eventpair.Config[uint32, gcInfo]{
			StartID: eventGCStart,
			StopID:  eventGCStop,
			Source:  runtimeevents.RuntimeSourceName,
			Key: func(e runtimeevents.Event) (uint32, bool) {
				return runtimeevents.Field[uint32](e, 0)
			},
			Data: func(e runtimeevents.Event) (gcInfo, bool) {
				gen, ok1 := runtimeevents.Field[uint32](e, 1)
				kind, ok2 := runtimeevents.Field[uint32](e, 3)
				return gcInfo{generation: gen, kind: kind}, ok1 && ok2
			},
			TTL:   p.ttl,
			Clock: p.clock,
		}),
		pause: eventpair.New(eventpair.Config[struct{}, struct{}]{
			StartID: eventSuspendEEStart,
			StopID:  eventRestartEEStop,
			Source:  runtimeevents.RuntimeSourceName,
			// Suspensions are process-wide and never overlap.
			Key:   eventpair.ConstantKey,
			TTL:   p.ttl,
			Clock: p.clock,
		}),
		reasonSets: enumSets("reason", gcReasons),
		cpu:        p.processCPU(),
		wall:       p.processTime(),
	}

	var err error
	m := p.meter
	if c.collectionDuration, err = m.Float64Histogram(
		"runtime.gc.collection.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of garbage collections by generation and type"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if c.pauseDuration, err = m.Float64Histogram(
		"runtime.gc.pause.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time the runtime was suspended for garbage collection"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if c.reasons, err = m.Int64Counter(
		"runtime.gc.collection.reasons",
		metric.WithUnit("{collection}"),
		metric.WithDescription("Garbage collections by triggering reason"),
	); err != nil {
		return nil, err
	}
	if c.heapSize, err = m.Int64Gauge(
		"runtime.gc.heap.size",
		metric.WithUnit("By"),
		metric.WithDescription("Heap size by generation after the last garbage collection"),
	); err != nil {
		return nil, err
	}
	if c.finalizationQueue, err = m.Int64Gauge(
		"runtime.gc.finalization.queue.length",
		metric.WithUnit("{object}"),
		metric.WithDescription("Objects waiting to be finalized"),
	); err != nil {
		return nil, err
	}
	if c.pinnedObjects, err = m.Int64Gauge(
		"runtime.gc.pinned.objects",
		metric.WithUnit("{object}"),
		metric.WithDescription("Pinned objects seen by the last garbage collection"),
	); err != nil {
		return nil, err
	}
	if c.allocated, err = m.Int64Counter(
		"runtime.gc.allocated",
		metric.WithUnit("By"),
		metric.WithDescription("Bytes allocated by heap, sampled by the runtime every 100KB"),
	); err != nil {
		return nil, err
	}
	if c.cpuRatio, err = m.Float64Gauge(
		"runtime.gc.cpu.ratio",
		metric.WithUnit("1"),
		metric.WithDescription("Fraction of process CPU time spent in garbage collection"),
	); err != nil {
		return nil, err
	}
	if c.pauseRatio, err = m.Float64Gauge(
		"runtime.gc.pause.ratio",
		metric.WithUnit("1"),
		metric.WithDescription("Fraction of wall time the runtime was suspended for garbage collection"),
	); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *gcCollector) Name() string { return GC }

func (c *gcCollector) Subscription() runtimeevents.Subscription {
	return runtimeevents.Subscription{
		Source:   runtimeevents.RuntimeSourceName,
		Level:    runtimeevents.LevelVerbose,
		Keywords: runtimeevents.KeywordGC,
	}
}

func (c *gcCollector) EvictExpired() int {
	return c.collection.EvictExpired() + c.pause.EvictExpired()
}

func (c *gcCollector) ProcessEvent(e runtimeevents.Event) {
	ctx := context.Background()

	switch e.ID {
	case eventGCAllocTick:
		amount, ok1 := runtimeevents.Field[uint32](e, 0)
		kind, ok2 := runtimeevents.Field[uint32](e, 1)
		if !ok1 || !ok2 {
			return
		}
		heap := heapSOH
		if kind&lohAllocFlag == lohAllocFlag {
			heap = heapLOH
		}
		c.allocated.Add(ctx, int64(amount), heap)

	case eventGCHeapStats:
		for i, idx := range []int{0, 2, 4, 6} {
			if size, ok := runtimeevents.Field[uint64](e, idx); ok {
				c.heapSize.Record(ctx, int64(size), generationSets[i])
			}
		}
		if n, ok := runtimeevents.Field[uint64](e, 9); ok {
			c.finalizationQueue.Record(ctx, int64(n))
		}
		if n, ok := runtimeevents.Field[uint32](e, 10); ok {
			c.pinnedObjects.Record(ctx, int64(n))
		}

	case eventSuspendEEStart:
		reason, ok := runtimeevents.Field[uint32](e, 0)
		if !ok || reason&suspendGCReasons == 0 {
			// Suspended for something other than a collection.
			return
		}
		c.pause.Observe(e)

	case eventRestartEEStop:
		res := c.pause.Observe(e)
		if res.Kind != eventpair.Completed {
			return
		}
		secs := res.Duration.Seconds()
		c.pauseDuration.Record(ctx, secs)

		c.lock.Lock()
		c.pauseSeconds += secs
		r := c.wall.Sample(c.pauseSeconds)
		c.lock.Unlock()
		c.pauseRatio.Record(ctx, r)

	case eventGCStart:
		if reason, ok := runtimeevents.Field[uint32](e, 2); ok {
			c.reasons.Add(ctx, 1, metric.WithAttributeSet(enumSet(c.reasonSets, "reason", gcReasons, reason)))
		}
		c.collection.Observe(e)

	case eventGCStop:
		res := c.collection.Observe(e)
		if res.Kind != eventpair.Completed {
			return
		}
		secs := res.Duration.Seconds()
		c.collectionDuration.Record(ctx, secs, metric.WithAttributes(
			attribute.String("generation", generationLabel(res.Data.generation)),
			attribute.String("type", enumLabel(gcTypes, res.Data.kind)),
		))

		c.lock.Lock()
		c.collectionSeconds += secs
		r := c.cpu.Sample(c.collectionSeconds)
		c.lock.Unlock()
		c.cpuRatio.Record(ctx, r)
	}
}
