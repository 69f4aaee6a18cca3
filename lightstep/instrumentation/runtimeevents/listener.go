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

package runtimeevents

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Collector turns events from one subscription into metrics.
// ProcessEvent must not block; it may panic, and the Listener
// recovers.
type Collector interface {
	Name() string
	Subscription() Subscription
	ProcessEvent(Event)
}

// ProcessError reports a collector that panicked on an event.
type ProcessError struct {
	Collector string
	EventID   int
	EventName string
	Cause     any
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s collector failed on event %d (%s): %v", e.Collector, e.EventID, e.EventName, e.Cause)
}

// Unwrap returns the panic value when it is an error.
func (e *ProcessError) Unwrap() error {
	err, _ := e.Cause.(error)
	return err
}

// listenerConfig contains optional settings for a Listener.
type listenerConfig struct {
	errorHandler otel.ErrorHandler
	debugMeter   metric.Meter
}

// ListenerOption supports configuring optional settings for a Listener.
type ListenerOption interface {
	apply(*listenerConfig)
}

type errorHandlerOption struct{ otel.ErrorHandler }

func (o errorHandlerOption) apply(c *listenerConfig) {
	if o.ErrorHandler != nil {
		c.errorHandler = o.ErrorHandler
	}
}

// WithErrorHandler routes collector failures to h.  If this option
// is not used, failures go to the global otel error handler.
func WithErrorHandler(h otel.ErrorHandler) ListenerOption {
	return errorHandlerOption{h}
}

type debugMeterOption struct{ metric.Meter }

func (o debugMeterOption) apply(c *listenerConfig) {
	c.debugMeter = o.Meter
}

// WithDebuggingMetrics records the volume of events processed and
// the time spent processing them, per event name.  These metrics
// are meant for diagnosing the overhead of collection, not for
// production use.
func WithDebuggingMetrics(m metric.Meter) ListenerOption {
	return debugMeterOption{m}
}

type globalErrorHandler struct{}

func (globalErrorHandler) Handle(err error) { otel.Handle(err) }

// Listener delivers the events of one subscription to one Collector.
type Listener struct {
	collector   Collector
	handler     otel.ErrorHandler
	unsubscribe func() error
	received    atomic.Bool

	debug        bool
	eventCount   metric.Int64Counter
	handlingTime metric.Float64Counter
}

// NewListener subscribes c to src.  Call Close to unsubscribe.
func NewListener(src Source, c Collector, opts ...ListenerOption) (*Listener, error) {
	cfg := listenerConfig{errorHandler: globalErrorHandler{}}
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	l := &Listener{
		collector: c,
		handler:   cfg.errorHandler,
	}

	if cfg.debugMeter != nil {
		var err error
		if l.eventCount, err = cfg.debugMeter.Int64Counter(
			"runtime.events.debug.events",
			metric.WithUnit("{event}"),
			metric.WithDescription("Events processed by each runtime stats collector"),
		); err != nil {
			return nil, err
		}
		if l.handlingTime, err = cfg.debugMeter.Float64Counter(
			"runtime.events.debug.handler.time",
			metric.WithUnit("s"),
			metric.WithDescription("Time spent processing events in each runtime stats collector"),
		); err != nil {
			return nil, err
		}
		l.debug = true
	}

	unsubscribe, err := src.Subscribe(c.Subscription(), l.onEvent)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s collector: %w", c.Name(), err)
	}
	l.unsubscribe = unsubscribe
	return l, nil
}

// Received reports whether any event has been delivered.
func (l *Listener) Received() bool {
	return l.received.Load()
}

// Close unsubscribes.  It is safe to call more than once.
func (l *Listener) Close() error {
	return l.unsubscribe()
}

func (l *Listener) onEvent(e Event) {
	l.received.Store(true)

	defer func() {
		if r := recover(); r != nil {
			l.handler.Handle(&ProcessError{
				Collector: l.collector.Name(),
				EventID:   e.ID,
				EventName: e.Name,
				Cause:     r,
			})
		}
	}()

	if !l.debug {
		l.collector.ProcessEvent(e)
		return
	}

	start := time.Now()
	l.collector.ProcessEvent(e)
	elapsed := time.Since(start)

	attrs := metric.WithAttributes(
		attribute.String("collector", l.collector.Name()),
		attribute.String("event.source", e.Source),
		attribute.String("event.name", e.Name),
	)
	ctx := context.Background()
	l.eventCount.Add(ctx, 1, attrs)
	l.handlingTime.Add(ctx, elapsed.Seconds(), attrs)
}
