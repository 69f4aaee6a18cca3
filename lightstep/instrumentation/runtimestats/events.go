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

// Runtime event IDs.
const (
	eventGCStart        = 1
	eventGCStop         = 2
	eventRestartEEStop  = 3
	eventGCHeapStats    = 4
	eventSuspendEEStart = 9
	eventGCAllocTick    = 10

	eventIOThreadCreate    = 44
	eventIOThreadTerminate = 45
	eventIOThreadRetire    = 46
	eventIOThreadUnretire  = 47
	eventThreadPoolAdjust  = 55

	eventExceptionThrown = 80
	eventContentionStart = 81
	eventContentionStop  = 91

	eventMethodLoadVerbose    = 143
	eventMethodJittingStarted = 145
)

// Framework event IDs.
const (
	eventThreadPoolEnqueueWork = 30
	eventThreadPoolDequeueWork = 31
)

// Suspension reasons that belong to a garbage collection.
const suspendGCReasons = 0x1 | 0x6

// lohAllocFlag marks an allocation tick on the large object heap.
const lohAllocFlag = 0x1

// dynamicMethodFlag marks a dynamically emitted method.
const dynamicMethodFlag = 0x1

// durationBuckets are histogram boundaries in seconds.
var durationBuckets = []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 10}
