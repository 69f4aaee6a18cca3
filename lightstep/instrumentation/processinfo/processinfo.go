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

// Package processinfo reports OS-level metrics about this process,
// polled with gopsutil when the metrics are collected.
//
//	Name                           Attribute          Unit
//
// ----------------------------------------------------------------------
//
//	process.cpu.time               state=user|system  s
//	process.cpu.utilization                           1
//	process.memory.usage                              By
//	process.memory.virtual                            By
//	process.threads                                   {thread}
//	process.open_file_descriptors                     {file_descriptor}
//	process.uptime                                    s
//
// process.cpu.utilization is the fraction of available CPU time, the
// wall time since the previous collection times the number of CPUs,
// spent by this process.
package processinfo // import "github.com/lightstep/runtime-events-go/lightstep/instrumentation/processinfo"

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/cputime"
	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/ratio"
)

// ScopeName is the instrumentation scope of the process metrics.
const ScopeName = "runtime_events_go/processinfo"

// config contains optional settings for reporting process metrics.
type config struct {
	// MeterProvider sets the metric.MeterProvider.  If nil, the global
	// Provider will be used.
	MeterProvider metric.MeterProvider
	// ErrorHandler receives failures to read process information.
	ErrorHandler otel.ErrorHandler
	// now is replaced in tests.
	now func() time.Time
}

// Option supports configuring optional settings for process metrics.
type Option interface {
	apply(*config)
}

// WithMeterProvider sets the Metric implementation to use for
// reporting.  If this option is not used, the global metric.MeterProvider
// will be used.  `provider` must be non-nil.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return metricProviderOption{provider}
}

type metricProviderOption struct{ metric.MeterProvider }

func (o metricProviderOption) apply(c *config) {
	if o.MeterProvider != nil {
		c.MeterProvider = o.MeterProvider
	}
}

// WithErrorHandler sets the handler for failures to read process
// information.  The default is otel.Handle.
func WithErrorHandler(h otel.ErrorHandler) Option {
	return errorHandlerOption{h}
}

type errorHandlerOption struct{ otel.ErrorHandler }

func (o errorHandlerOption) apply(c *config) {
	if o.ErrorHandler != nil {
		c.ErrorHandler = o.ErrorHandler
	}
}

type globalErrorHandler struct{}

func (globalErrorHandler) Handle(err error) { otel.Handle(err) }

// Attribute sets for CPU time measurements.
var (
	AttributeCPUTimeUser = []metric.ObserveOption{
		metric.WithAttributes(attribute.String("state", "user")),
	}
	AttributeCPUTimeSystem = []metric.ObserveOption{
		metric.WithAttributes(attribute.String("state", "system")),
	}
)

func newConfig(opts ...Option) config {
	c := config{
		MeterProvider: otel.GetMeterProvider(),
		ErrorHandler:  globalErrorHandler{},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt.apply(&c)
	}
	return c
}

type processInfo struct {
	meter   metric.Meter
	handler otel.ErrorHandler
	self    *process.Process
	cpu     *ratio.Ratio
}

// Start registers the process metrics.  Unregister the returned
// registration to stop reporting.
func Start(opts ...Option) (metric.Registration, error) {
	cfg := newConfig(opts...)
	p, err := newProcessInfo(cfg)
	if err != nil {
		return nil, err
	}
	return p.register()
}

func newProcessInfo(cfg config) (*processInfo, error) {
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("could not find this process: %w", err)
	}
	origin := cfg.now()
	ncpu := float64(runtime.NumCPU())
	return &processInfo{
		meter:   cfg.MeterProvider.Meter(ScopeName),
		handler: cfg.ErrorHandler,
		self:    self,
		cpu: ratio.New(func() float64 {
			return cfg.now().Sub(origin).Seconds() * ncpu
		}),
	}, nil
}

func (p *processInfo) register() (metric.Registration, error) {
	var (
		err error

		cpuTime        metric.Float64ObservableCounter
		cpuUtilization metric.Float64ObservableGauge
		memoryUsage    metric.Int64ObservableUpDownCounter
		memoryVirtual  metric.Int64ObservableUpDownCounter
		threads        metric.Int64ObservableUpDownCounter
		openFDs        metric.Int64ObservableUpDownCounter
		uptime         metric.Float64ObservableUpDownCounter
	)

	if cpuTime, err = p.meter.Float64ObservableCounter(
		"process.cpu.time",
		metric.WithUnit("s"),
		metric.WithDescription(
			"Accumulated CPU time spent by this process attributed by state (User, System)",
		),
	); err != nil {
		return nil, err
	}

	if cpuUtilization, err = p.meter.Float64ObservableGauge(
		"process.cpu.utilization",
		metric.WithUnit("1"),
		metric.WithDescription("Fraction of available CPU time used by this process since the last collection"),
	); err != nil {
		return nil, err
	}

	if memoryUsage, err = p.meter.Int64ObservableUpDownCounter(
		"process.memory.usage",
		metric.WithUnit("By"),
		metric.WithDescription("Resident memory of this process"),
	); err != nil {
		return nil, err
	}

	if memoryVirtual, err = p.meter.Int64ObservableUpDownCounter(
		"process.memory.virtual",
		metric.WithUnit("By"),
		metric.WithDescription("Virtual memory committed by this process"),
	); err != nil {
		return nil, err
	}

	if threads, err = p.meter.Int64ObservableUpDownCounter(
		"process.threads",
		metric.WithUnit("{thread}"),
		metric.WithDescription("OS threads of this process"),
	); err != nil {
		return nil, err
	}

	if openFDs, err = p.meter.Int64ObservableUpDownCounter(
		"process.open_file_descriptors",
		metric.WithUnit("{file_descriptor}"),
		metric.WithDescription("File descriptors open in this process"),
	); err != nil {
		return nil, err
	}

	if uptime, err = p.meter.Float64ObservableUpDownCounter(
		"process.uptime",
		metric.WithUnit("s"),
		metric.WithDescription("Seconds since application was initialized"),
	); err != nil {
		return nil, err
	}

	return p.meter.RegisterCallback(
		func(ctx context.Context, obs metric.Observer) error {
			obs.ObserveFloat64(uptime, cputime.Uptime().Seconds())

			user, system, err := cputime.ProcessTimes(ctx)
			if err != nil {
				p.handler.Handle(err)
			} else {
				obs.ObserveFloat64(cpuTime, user, AttributeCPUTimeUser...)
				obs.ObserveFloat64(cpuTime, system, AttributeCPUTimeSystem...)
				obs.ObserveFloat64(cpuUtilization, p.cpu.Sample(user+system))
			}

			if mem, err := p.self.MemoryInfoWithContext(ctx); err != nil {
				p.handler.Handle(fmt.Errorf("process memory: %w", err))
			} else {
				obs.ObserveInt64(memoryUsage, int64(mem.RSS))
				obs.ObserveInt64(memoryVirtual, int64(mem.VMS))
			}

			if n, err := p.self.NumThreadsWithContext(ctx); err != nil {
				p.handler.Handle(fmt.Errorf("process threads: %w", err))
			} else {
				obs.ObserveInt64(threads, int64(n))
			}

			// Not every platform counts descriptors; skip quietly.
			if n, err := p.self.NumFDsWithContext(ctx); err == nil {
				obs.ObserveInt64(openFDs, int64(n))
			}
			return nil
		},
		cpuTime,
		cpuUtilization,
		memoryUsage,
		memoryVirtual,
		threads,
		openFDs,
		uptime,
	)
}
