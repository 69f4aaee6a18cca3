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
	"errors"
	"time"

	"github.com/go-logr/logr"

	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/internal/doevery"
	"github.com/lightstep/runtime-events-go/lightstep/instrumentation/runtimeevents"
)

// errorLogPeriod limits how often one collector's failures are
// logged.
const errorLogPeriod = 10 * time.Second

// logHandler logs event processing failures, at most once per
// period per collector.
type logHandler struct {
	logger logr.Logger
	limit  *doevery.Limiter
}

func newLogHandler(logger logr.Logger) *logHandler {
	return &logHandler{
		logger: logger,
		limit:  doevery.New(errorLogPeriod),
	}
}

func (h *logHandler) Handle(err error) {
	key := "runtimestats"
	var pe *runtimeevents.ProcessError
	if errors.As(err, &pe) {
		key = pe.Collector
	}
	h.limit.Do(key, func(suppressed int) {
		h.logger.Error(err, "runtime stats collection failed", "collector", key, "suppressed", suppressed)
	})
}
