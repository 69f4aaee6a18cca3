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
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/sampling"
)

// Collector names, as accepted by ParseCollectors.
const (
	GC                   = "gc"
	JIT                  = "jit"
	Contention           = "contention"
	ThreadPoolScheduling = "threadpool_scheduling"
	ThreadPool           = "threadpool"
	Exceptions           = "exceptions"
	Process              = "process"
)

// Default sampling rates of the sampled collectors.
const (
	DefaultJITRate                  = sampling.TenEvents
	DefaultContentionRate           = sampling.TwoEvents
	DefaultThreadPoolSchedulingRate = sampling.TenEvents
)

// AllCollectors lists every collector name in start order.
var AllCollectors = []string{GC, JIT, Contention, ThreadPoolScheduling, ThreadPool, Exceptions, Process}

type collectorSpec struct {
	name string
	rate sampling.Rate
}

// config contains optional settings for reporting runtime stats.
type config struct {
	// MeterProvider sets the metric.MeterProvider.  If nil, the global
	// Provider will be used.
	MeterProvider metric.MeterProvider
	// ErrorHandler receives failures while processing events.  If
	// nil, failures are logged.
	ErrorHandler otel.ErrorHandler
	Logger       logr.Logger
	Debug        bool
	PendingTTL   time.Duration

	collectors []collectorSpec
	// clock is replaced in tests.
	clock func() time.Time
}

// Option supports configuring optional settings for runtime stats.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

// WithMeterProvider sets the Metric implementation to use for
// reporting.  If this option is not used, the global metric.MeterProvider
// will be used.  `provider` must be non-nil.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return optionFunc(func(c *config) {
		if provider != nil {
			c.MeterProvider = provider
		}
	})
}

// WithErrorHandler routes failures while processing events to h.
func WithErrorHandler(h otel.ErrorHandler) Option {
	return optionFunc(func(c *config) {
		c.ErrorHandler = h
	})
}

// WithLogger sets the logger used by the default error handler.
func WithLogger(l logr.Logger) Option {
	return optionFunc(func(c *config) {
		c.Logger = l
	})
}

// WithDebuggingMetrics enables per-event counters and handler
// timing for every collector.
func WithDebuggingMetrics(enabled bool) Option {
	return optionFunc(func(c *config) {
		c.Debug = enabled
	})
}

// WithPendingTTL sets how long a start event waits for its stop.
func WithPendingTTL(ttl time.Duration) Option {
	return optionFunc(func(c *config) {
		c.PendingTTL = ttl
	})
}

func withCollector(name string, rate sampling.Rate) Option {
	return optionFunc(func(c *config) {
		c.collectors = append(c.collectors, collectorSpec{name: name, rate: rate})
	})
}

// WithGCStats enables garbage collection metrics.
func WithGCStats() Option { return withCollector(GC, sampling.OneEvent) }

// WithJITStats enables JIT compiler metrics, tracking 1 in rate
// compilations.
func WithJITStats(rate sampling.Rate) Option { return withCollector(JIT, rate) }

// WithContentionStats enables lock contention metrics, tracking 1 in
// rate contentions.
func WithContentionStats(rate sampling.Rate) Option { return withCollector(Contention, rate) }

// WithThreadPoolSchedulingStats enables work item scheduling metrics,
// tracking 1 in rate work items.
func WithThreadPoolSchedulingStats(rate sampling.Rate) Option {
	return withCollector(ThreadPoolScheduling, rate)
}

// WithThreadPoolStats enables thread pool size metrics.
func WithThreadPoolStats() Option { return withCollector(ThreadPool, sampling.OneEvent) }

// WithExceptionStats enables exception metrics.
func WithExceptionStats() Option { return withCollector(Exceptions, sampling.OneEvent) }

// WithProcessStats enables the OS process metrics of package
// processinfo.
func WithProcessStats() Option { return withCollector(Process, sampling.OneEvent) }

// WithCollector enables a collector by name, with the rate used by
// sampled collectors.
func WithCollector(name string, rate sampling.Rate) Option {
	return withCollector(name, rate)
}

// DefaultRate returns the default sampling rate of a collector.
func DefaultRate(name string) sampling.Rate {
	switch name {
	case JIT:
		return DefaultJITRate
	case Contention:
		return DefaultContentionRate
	case ThreadPoolScheduling:
		return DefaultThreadPoolSchedulingRate
	}
	return sampling.OneEvent
}

func newConfig(opts ...Option) config {
	c := config{
		MeterProvider: otel.GetMeterProvider(),
		Logger:        stdr.New(log.New(os.Stderr, "", log.LstdFlags)),
	}
	for _, opt := range opts {
		opt.apply(&c)
	}
	if len(c.collectors) == 0 {
		for _, name := range AllCollectors {
			c.collectors = append(c.collectors, collectorSpec{name: name, rate: DefaultRate(name)})
		}
	}
	return c
}

func (c config) validate() error {
	seen := map[string]bool{}
	for _, cs := range c.collectors {
		if !knownCollector(cs.name) {
			return fmt.Errorf("unknown runtime stats collector: %q", cs.name)
		}
		if seen[cs.name] {
			return fmt.Errorf("runtime stats collector %q configured more than once", cs.name)
		}
		seen[cs.name] = true
		if err := cs.rate.Validate(); err != nil {
			return fmt.Errorf("%s collector: %w", cs.name, err)
		}
	}
	if c.PendingTTL < 0 {
		return fmt.Errorf("negative pending TTL: %v", c.PendingTTL)
	}
	return nil
}

func knownCollector(name string) bool {
	for _, n := range AllCollectors {
		if n == name {
			return true
		}
	}
	return false
}

// ParseCollectors parses a comma-separated list of collector names.
// An empty list or "all" selects every collector.
func ParseCollectors(list string) ([]string, error) {
	list = strings.TrimSpace(list)
	if list == "" || list == "all" {
		return append([]string(nil), AllCollectors...), nil
	}
	var names []string
	for _, name := range strings.Split(list, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if !knownCollector(name) {
			return nil, fmt.Errorf("unknown runtime stats collector: %q", name)
		}
		names = append(names, name)
	}
	return names, nil
}
