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

// Package runtimestats translates the managed runtime's diagnostic
// events into OpenTelemetry metrics.
//
// Each collector subscribes to the events of one runtime subsystem
// and pairs start and stop events with an eventpair.Correlator:
//
//	Collector              Metrics
//
// ----------------------------------------------------------------------
//
//	gc                     runtime.gc.collection.duration  {generation, type}
//	                       runtime.gc.pause.duration
//	                       runtime.gc.collection.reasons   {reason}
//	                       runtime.gc.heap.size            {generation}
//	                       runtime.gc.finalization.queue.length
//	                       runtime.gc.pinned.objects
//	                       runtime.gc.allocated            {heap}
//	                       runtime.gc.cpu.ratio
//	                       runtime.gc.pause.ratio
//	jit                    runtime.jit.methods             {dynamic}
//	                       runtime.jit.time                {dynamic}
//	                       runtime.jit.cpu.ratio
//	contention             runtime.lock.contentions
//	                       runtime.lock.contention.time
//	threadpool_scheduling  runtime.threadpool.scheduled
//	                       runtime.threadpool.schedule.delay
//	threadpool             runtime.threadpool.threads
//	                       runtime.threadpool.io.threads
//	                       runtime.threadpool.adjustments  {reason}
//	exceptions             runtime.exceptions
//	process                see package processinfo
//
// Sampled collectors track 1 in N activities and multiply counts and
// durations by N.
package runtimestats // import "github.com/lightstep/runtime-events-go/lightstep/instrumentation/runtimestats"
