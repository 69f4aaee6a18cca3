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
	"strconv"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute values carried by runtime events as small integers.
// Values outside these tables are reported as "unknown_<n>".

var gcReasons = []string{
	"alloc_small",
	"induced",
	"low_memory",
	"empty",
	"alloc_large",
	"out_of_space_soh",
	"out_of_space_loh",
	"induced_not_forced",
	"internal",
	"induced_low_memory",
	"induced_compacting",
	"low_memory_host",
	"pm_full_gc",
	"low_memory_host_blocking",
}

var gcTypes = []string{
	"non_concurrent_gc",
	"background_gc",
	"foreground_gc",
}

var adjustmentReasons = []string{
	"warmup",
	"initializing",
	"random_move",
	"climbing_move",
	"change_point",
	"stabilizing",
	"starvation",
	"thread_timed_out",
}

func enumLabel(table []string, v uint32) string {
	if int(v) < len(table) {
		return table[v]
	}
	return "unknown_" + strconv.FormatUint(uint64(v), 10)
}

// enumSets precomputes one attribute set per known value.
func enumSets(key attribute.Key, table []string) []attribute.Set {
	sets := make([]attribute.Set, len(table))
	for i, v := range table {
		sets[i] = attribute.NewSet(key.String(v))
	}
	return sets
}

func enumSet(sets []attribute.Set, key attribute.Key, table []string, v uint32) attribute.Set {
	if int(v) < len(sets) {
		return sets[v]
	}
	return attribute.NewSet(key.String(enumLabel(table, v)))
}

// generationLabel names a GC generation; generations above 2 are
// the large object heap.
func generationLabel(gen uint32) string {
	if gen > 2 {
		return "loh"
	}
	return strconv.FormatUint(uint64(gen), 10)
}
