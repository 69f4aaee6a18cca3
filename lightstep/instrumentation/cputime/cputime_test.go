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

package cputime

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func burn(d time.Duration) {
	start := time.Now()
	x := 1.0
	for time.Since(start) < d {
		for i := 0; i < 1000; i++ {
			x = math.Sqrt(x + float64(i))
		}
	}
	_ = x
}

func TestProcessTimes(t *testing.T) {
	ctx := context.Background()

	beforeUser, beforeSystem, err := ProcessTimes(ctx)
	require.NoError(t, err)

	burn(200 * time.Millisecond)

	afterUser, afterSystem, err := ProcessTimes(ctx)
	require.NoError(t, err)

	require.LessOrEqual(t, beforeUser, afterUser)
	require.LessOrEqual(t, beforeSystem, afterSystem)
	require.Greater(t, afterUser+afterSystem, beforeUser+beforeSystem)
}

func TestProcessCPUSeconds(t *testing.T) {
	before := ProcessCPUSeconds()
	require.False(t, math.IsNaN(before))

	burn(100 * time.Millisecond)

	require.Greater(t, ProcessCPUSeconds(), before)
}

func TestProcessUptime(t *testing.T) {
	y2k, err := time.Parse(time.RFC3339, "2000-01-01T00:00:00Z")
	require.NoError(t, err)
	expectUptime := time.Since(y2k)

	var save time.Time
	processStartTime, save = y2k, processStartTime
	defer func() {
		processStartTime = save
	}()

	require.Equal(t, y2k, StartTime())
	require.LessOrEqual(t, expectUptime, Uptime())
}

type recordingHandler struct {
	errs []error
}

func (h *recordingHandler) Handle(err error) {
	h.errs = append(h.errs, err)
}

func TestCPUSecondsReaderFailures(t *testing.T) {
	failure := errors.New("no such process")
	save := readProcessTimes
	readProcessTimes = func(context.Context) (float64, float64, error) {
		return 0, 0, failure
	}
	defer func() {
		readProcessTimes = save
	}()

	h := &recordingHandler{}
	read := CPUSecondsReader(h)
	for i := 0; i < 100; i++ {
		require.True(t, math.IsNaN(read()))
	}

	// One report per period, not one per read.
	require.Len(t, h.errs, 1)
	require.ErrorIs(t, h.errs[0], failure)

	readProcessTimes = func(context.Context) (float64, float64, error) {
		return 1.5, 0.5, nil
	}
	require.Equal(t, 2.0, read())
	require.Len(t, h.errs, 1)
}
