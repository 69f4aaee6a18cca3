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

//go:build !(linux || darwin)

package cputime // import "github.com/lightstep/runtime-events-go/lightstep/instrumentation/cputime"

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

var (
	selfOnce sync.Once
	selfProc *process.Process
	selfErr  error
)

func processTimes(ctx context.Context) (userSeconds, systemSeconds float64, err error) {
	selfOnce.Do(func() {
		selfProc, selfErr = process.NewProcessWithContext(ctx, int32(os.Getpid()))
	})
	if selfErr != nil {
		return 0, 0, fmt.Errorf("could not find this process: %w", selfErr)
	}
	times, err := selfProc.TimesWithContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("process times: %w", err)
	}
	return times.User, times.System, nil
}
