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
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"

	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/pendingcache"
	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/processinfo"
	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/ratio"
	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/runtimeevents"
)

// ScopeName is the instrumentation scope of the runtime metrics.
const ScopeName = "runtime_events_go/runtimestats"

// Stats holds the listeners and registrations of started
// collectors.  Call Shutdown to release them.
type Stats struct {
	names         []string
	listeners     []*runtimeevents.Listener
	expirers      []expirer
	registrations []metric.Registration

	cancel   context.CancelFunc
	janitor  sync.WaitGroup
	shutdown sync.Once
	err      error
}

// Start subscribes the configured collectors to src.  With no
// collector options every collector is started.  If any collector
// fails to start, those already started are shut down.
func Start(src runtimeevents.Source, opts ...Option) (*Stats, error) {
	if src == nil {
		return nil, errors.New("runtime stats: nil event source")
	}
	cfg := newConfig(opts...)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	handler := cfg.ErrorHandler
	if handler == nil {
		handler = newLogHandler(cfg.Logger)
	}

	meter := cfg.MeterProvider.Meter(
		ScopeName,
		metric.WithInstrumentationVersion(Version()),
	)

	s := &Stats{}
	reg, err := registerBuildInfo(meter)
	if err != nil {
		return nil, err
	}
	s.registrations = append(s.registrations, reg)

	lopts := []runtimeevents.ListenerOption{runtimeevents.WithErrorHandler(handler)}
	if cfg.Debug {
		lopts = append(lopts, runtimeevents.WithDebuggingMetrics(meter))
	}

	ttl := cfg.PendingTTL
	if ttl == 0 {
		ttl = pendingcache.DefaultTTL
	}

	for _, cs := range cfg.collectors {
		if cs.name == Process {
			reg, err := processinfo.Start(
				processinfo.WithMeterProvider(cfg.MeterProvider),
				processinfo.WithErrorHandler(handler),
			)
			if err != nil {
				return nil, multierr.Append(fmt.Errorf("start process collector: %w", err), s.Shutdown())
			}
			s.names = append(s.names, cs.name)
			s.registrations = append(s.registrations, reg)
			continue
		}

		c, err := newCollector(collectorParams{
			meter:       meter,
			collector:   cs,
			ttl:         ttl,
			clock:       cfg.clock,
			processCPU:  func() *ratio.Ratio { return ratio.ProcessTotalCPU(handler) },
			processTime: ratio.ProcessTime,
		})
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("start %s collector: %w", cs.name, err), s.Shutdown())
		}
		l, err := runtimeevents.NewListener(src, c, lopts...)
		if err != nil {
			return nil, multierr.Append(err, s.Shutdown())
		}
		s.names = append(s.names, cs.name)
		s.listeners = append(s.listeners, l)
		if e, ok := c.(expirer); ok {
			s.expirers = append(s.expirers, e)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if len(s.expirers) != 0 {
		s.janitor.Add(1)
		go s.evictExpired(ctx, ttl)
	}
	return s, nil
}

func newCollector(p collectorParams) (runtimeevents.Collector, error) {
	switch p.collector.name {
	case GC:
		return newGCCollector(p)
	case JIT:
		return newJITCollector(p)
	case Contention:
		return newContentionCollector(p)
	case ThreadPoolScheduling:
		return newSchedulingCollector(p)
	case ThreadPool:
		return newThreadPoolCollector(p)
	case Exceptions:
		return newExceptionCollector(p)
	}
	return nil, fmt.Errorf("unknown runtime stats collector: %q", p.collector.name)
}

// evictExpired drops starts whose stop never arrived, for streams
// that went quiet before their next insert could sweep.
func (s *Stats) evictExpired(ctx context.Context, ttl time.Duration) {
	defer s.janitor.Done()

	ticker := time.NewTicker(ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, e := range s.expirers {
				e.EvictExpired()
			}
		}
	}
}

// Collectors returns the names of the started collectors.
func (s *Stats) Collectors() []string {
	return append([]string(nil), s.names...)
}

// Received reports whether any collector has received an event,
// which confirms the event source is delivering.
func (s *Stats) Received() bool {
	for _, l := range s.listeners {
		if l.Received() {
			return true
		}
	}
	return false
}

// Shutdown unsubscribes every collector and unregisters observable
// instruments.  It is safe to call more than once.
func (s *Stats) Shutdown() error {
	s.shutdown.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.janitor.Wait()

		var err error
		for _, l := range s.listeners {
			err = multierr.Append(err, l.Close())
		}
		for _, r := range s.registrations {
			err = multierr.Append(err, r.Unregister())
		}
		s.err = err
	})
	return s.err
}

func registerBuildInfo(meter metric.Meter) (metric.Registration, error) {
	var (
		err error

		buildInfo metric.Int64ObservableGauge
		cpuCount  metric.Int64ObservableUpDownCounter
	)

	if buildInfo, err = meter.Int64ObservableGauge(
		"runtime.build.info",
		metric.WithUnit("{info}"),
		metric.WithDescription("Build information, reported as attributes with value 1"),
	); err != nil {
		return nil, err
	}
	if cpuCount, err = meter.Int64ObservableUpDownCounter(
		"process.cpu.count",
		metric.WithUnit("{cpu}"),
		metric.WithDescription("Logical CPUs available to the process"),
	); err != nil {
		return nil, err
	}

	info := metric.WithAttributeSet(attribute.NewSet(
		attribute.String("library.version", Version()),
		attribute.String("go.version", runtime.Version()),
		attribute.String("os.type", runtime.GOOS),
		attribute.String("host.arch", runtime.GOARCH),
	))

	return meter.RegisterCallback(
		func(_ context.Context, obs metric.Observer) error {
			obs.ObserveInt64(buildInfo, 1, info)
			obs.ObserveInt64(cpuCount, int64(runtime.NumCPU()))
			return nil
		},
		buildInfo,
		cpuCount,
	)
}
