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

package processinfo

import (
	"errors"
	"math"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel/attribute"

	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/internal/metrictest"
)

type errorCollector struct {
	errs []error
}

func (h *errorCollector) Handle(err error) { h.errs = append(h.errs, err) }

func TestProcessMetrics(t *testing.T) {
	provider, reader := metrictest.NewProvider()
	handler := &errorCollector{}

	reg, err := Start(WithMeterProvider(provider), WithErrorHandler(handler))
	require.NoError(t, err)

	metrics := metrictest.Collect(t, reader)

	user, ok := metrictest.Value(metrics, "process.cpu.time", attribute.String("state", "user"))
	require.True(t, ok)
	assert.Greater(t, user, 0.0)
	_, ok = metrictest.Value(metrics, "process.cpu.time", attribute.String("state", "system"))
	require.True(t, ok)

	rss, ok := metrictest.Value(metrics, "process.memory.usage")
	require.True(t, ok)
	assert.Greater(t, rss, 0.0)

	vms, ok := metrictest.Value(metrics, "process.memory.virtual")
	require.True(t, ok)
	assert.GreaterOrEqual(t, vms, rss)

	threads, ok := metrictest.Value(metrics, "process.threads")
	require.True(t, ok)
	assert.GreaterOrEqual(t, threads, 1.0)

	uptime, ok := metrictest.Value(metrics, "process.uptime")
	require.True(t, ok)
	assert.Greater(t, uptime, 0.0)

	util, ok := metrictest.Value(metrics, "process.cpu.utilization")
	require.True(t, ok)
	assert.GreaterOrEqual(t, util, 0.0)
	assert.LessOrEqual(t, util, 1.0)

	if runtime.GOOS == "linux" {
		require.Empty(t, handler.errs)
	}

	require.NoError(t, reg.Unregister())
}

func TestCPUUtilization(t *testing.T) {
	now := time.Unix(1000, 0)
	cfg := newConfig()
	cfg.now = func() time.Time { return now }

	p, err := newProcessInfo(cfg)
	require.NoError(t, err)

	ncpu := float64(runtime.NumCPU())
	now = now.Add(2 * time.Second)
	require.InDelta(t, 1/ncpu, p.cpu.Sample(2), 1e-9)

	// No time passed, the previous value holds.
	require.InDelta(t, 1/ncpu, p.cpu.Sample(3), 1e-9)
	require.False(t, math.IsNaN(p.cpu.Last()))
}

func TestDefaultErrorHandler(t *testing.T) {
	cfg := newConfig(WithErrorHandler(nil))
	require.IsType(t, globalErrorHandler{}, cfg.ErrorHandler)
	require.NotPanics(t, func() {
		cfg.ErrorHandler.Handle(errors.New("ignored"))
	})
}
