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

	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/runtimeevents"
)

type exceptionCollector struct {
	thrown metric.Int64Counter
}

var _ runtimeevents.Collector = (*exceptionCollector)(nil)

func newExceptionCollector(p collectorParams) (*exceptionCollector, error) {
	thrown, err := p.meter.Int64Counter(
		"runtime.exceptions",
		metric.WithUnit("{exception}"),
		metric.WithDescription("Exceptions thrown"),
	)
	if err != nil {
		return nil, err
	}
	return &exceptionCollector{thrown: thrown}, nil
}

func (c *exceptionCollector) Name() string { return Exceptions }

func (c *exceptionCollector) Subscription() runtimeevents.Subscription {
	return runtimeevents.Subscription{
		Source:   runtimeevents.RuntimeSourceName,
		Level:    runtimeevents.LevelVerbose,
		Keywords: runtimeevents.KeywordException,
	}
}

func (c *exceptionCollector) ProcessEvent(e runtimeevents.Event) {
	if e.ID == eventExceptionThrown {
		c.thrown.Add(context.Background(), 1)
	}
}
