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

package cputime // import "github.com/lightstep/runtime-events-go/lightstep/instrumentation/cputime"

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/internal/doevery"
)

// processStartTime should be initialized before the first GC, ideally.
var processStartTime = time.Now()

// StartTime returns the time this package was initialized, an
// approximation of process start.
func StartTime() time.Time {
	return processStartTime
}

// Uptime returns the time since StartTime.
func Uptime() time.Duration {
	return time.Since(processStartTime)
}

// cpuErrorPeriod limits how often one reader reports failures.
const cpuErrorPeriod = 10 * time.Second

// readProcessTimes is replaced in tests.
var readProcessTimes = processTimes

// ProcessTimes returns the user and system CPU seconds consumed by
// this process.
func ProcessTimes(ctx context.Context) (userSeconds, systemSeconds float64, err error) {
	return readProcessTimes(ctx)
}

var defaultReader = CPUSecondsReader(nil)

// ProcessCPUSeconds returns user plus system CPU seconds.  Failures
// yield NaN and are reported to the global error handler, at most
// once per 10 seconds.
func ProcessCPUSeconds() float64 {
	return defaultReader()
}

// CPUSecondsReader returns a function reading user plus system CPU
// seconds.  Failures yield NaN and are reported to h at most once
// per 10 seconds, with the number of failures suppressed since.  A
// nil h means the global error handler.
func CPUSecondsReader(h otel.ErrorHandler) func() float64 {
	limit := doevery.New(cpuErrorPeriod)
	return func() float64 {
		user, system, err := readProcessTimes(context.Background())
		if err != nil {
			limit.Do("cputime", func(suppressed int) {
				err = fmt.Errorf("process cpu time (%d similar errors suppressed): %w", suppressed, err)
				if h != nil {
					h.Handle(err)
				} else {
					otel.Handle(err)
				}
			})
			return math.NaN()
		}
		return user + system
	}
}
