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

package pipelines

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"google.golang.org/grpc/encoding/gzip"
)

// NewMetricsPipeline installs a global MeterProvider that exports
// to c.Endpoint over OTLP/gRPC every reporting period.  The returned
// function flushes and stops the pipeline.
func NewMetricsPipeline(c PipelineConfig) (func() error, error) {
	var err error

	period := 30 * time.Second

	if c.ReportingPeriod != "" {
		period, err = time.ParseDuration(c.ReportingPeriod)
		if err != nil {
			return nil, fmt.Errorf("invalid metric reporting period: %v", err)
		}
		if period <= 0 {
			return nil, fmt.Errorf("invalid metric reporting period: %v", c.ReportingPeriod)
		}
	}

	tempo, err := temporalitySelector(c.TemporalityPreference)
	if err != nil {
		return nil, fmt.Errorf("invalid metric view configuration: %v", err)
	}

	metricExporter, err := c.newMetricsExporter(tempo)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %v", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(period)),
		),
	}
	if c.Resource != nil {
		opts = append(opts, sdkmetric.WithResource(c.Resource))
	}
	provider := sdkmetric.NewMeterProvider(opts...)

	otel.SetMeterProvider(provider)
	return func() error {
		return provider.Shutdown(context.Background())
	}, nil
}

func (c PipelineConfig) newMetricsExporter(tempo sdkmetric.TemporalitySelector) (*otlpmetricgrpc.Exporter, error) {
	return otlpmetricgrpc.New(
		context.Background(),
		c.secureMetricOption(),
		otlpmetricgrpc.WithEndpoint(c.Endpoint),
		otlpmetricgrpc.WithHeaders(c.Headers),
		otlpmetricgrpc.WithCompressor(gzip.Name),
		otlpmetricgrpc.WithTemporalitySelector(tempo),
	)
}

func temporalitySelector(pref string) (sdkmetric.TemporalitySelector, error) {
	syncPref := metricdata.CumulativeTemporality
	asyncPref := metricdata.CumulativeTemporality

	switch lower := strings.ToLower(pref); lower {
	case "delta":
		// Delta means exercising the cumulative-to-delta
		// export path.
		syncPref = metricdata.DeltaTemporality
		asyncPref = metricdata.DeltaTemporality
	case "stateless":
		// asyncPref set above.
		syncPref = metricdata.DeltaTemporality
	case "", "cumulative":
		// syncPref, asyncPref set above.
	default:
		return nil, fmt.Errorf("invalid temporality preference: %v", pref)
	}

	return func(k sdkmetric.InstrumentKind) metricdata.Temporality {
		switch k {
		case sdkmetric.InstrumentKindUpDownCounter, sdkmetric.InstrumentKindObservableUpDownCounter:
			return metricdata.CumulativeTemporality
		case sdkmetric.InstrumentKindCounter, sdkmetric.InstrumentKindHistogram:
			return syncPref
		case sdkmetric.InstrumentKindObservableCounter:
			return asyncPref
		default:
			// Gauges have no temporality.
			return metricdata.CumulativeTemporality
		}
	}, nil
}
