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

// Package metrictest reads values out of collected metric data in
// tests.
package metrictest // import "github.com/lightstep/runtime-events-go/lightstep/instrumentation/internal/metrictest"

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// NewProvider returns a MeterProvider read by the returned reader.
func NewProvider(opts ...metric.Option) (*metric.MeterProvider, *metric.ManualReader) {
	reader := metric.NewManualReader()
	opts = append(opts, metric.WithReader(reader))
	return metric.NewMeterProvider(opts...), reader
}

// Collect reads every metric from reader, across scopes.
func Collect(t testing.TB, reader metric.Reader) []metricdata.Metrics {
	t.Helper()

	var data metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &data))

	var all []metricdata.Metrics
	for _, sm := range data.ScopeMetrics {
		all = append(all, sm.Metrics...)
	}
	return all
}

// Find returns the metric named name.
func Find(metrics []metricdata.Metrics, name string) (metricdata.Metrics, bool) {
	for _, m := range metrics {
		if m.Name == name {
			return m, true
		}
	}
	return metricdata.Metrics{}, false
}

func matches(set attribute.Set, attrs []attribute.KeyValue) bool {
	for _, kv := range attrs {
		val, ok := set.Value(kv.Key)
		if !ok || val.Emit() != kv.Value.Emit() {
			return false
		}
	}
	return true
}

// Value returns the value of the first point of a sum or gauge named
// name whose attributes include attrs.
func Value(metrics []metricdata.Metrics, name string, attrs ...attribute.KeyValue) (float64, bool) {
	m, ok := Find(metrics, name)
	if !ok {
		return 0, false
	}
	switch dt := m.Data.(type) {
	case metricdata.Gauge[int64]:
		for _, p := range dt.DataPoints {
			if matches(p.Attributes, attrs) {
				return float64(p.Value), true
			}
		}
	case metricdata.Gauge[float64]:
		for _, p := range dt.DataPoints {
			if matches(p.Attributes, attrs) {
				return p.Value, true
			}
		}
	case metricdata.Sum[int64]:
		for _, p := range dt.DataPoints {
			if matches(p.Attributes, attrs) {
				return float64(p.Value), true
			}
		}
	case metricdata.Sum[float64]:
		for _, p := range dt.DataPoints {
			if matches(p.Attributes, attrs) {
				return p.Value, true
			}
		}
	}
	return 0, false
}

// Histogram returns the count and sum of the first point of a
// histogram named name whose attributes include attrs.
func Histogram(metrics []metricdata.Metrics, name string, attrs ...attribute.KeyValue) (count uint64, sum float64, ok bool) {
	m, found := Find(metrics, name)
	if !found {
		return 0, 0, false
	}
	hist, isHist := m.Data.(metricdata.Histogram[float64])
	if !isHist {
		return 0, 0, false
	}
	for _, p := range hist.DataPoints {
		if matches(p.Attributes, attrs) {
			return p.Count, p.Sum, true
		}
	}
	return 0, 0, false
}
