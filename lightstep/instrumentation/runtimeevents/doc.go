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

// Package runtimeevents models the diagnostic event stream of a
// managed runtime and delivers it to collectors.
//
// Events arrive one at a time on the producer's goroutine through a
// Source.  A Listener binds one Collector to one subscription and
// guarantees that a failing collector cannot disturb delivery: panics
// are recovered and passed to an otel.ErrorHandler.
//
// The Feed type is an in-process Source.  Applications that bridge an
// external event pipe (an EventPipe session, an ETW consumer, a
// replayed trace) publish into a Feed; tests do the same with
// synthetic events.
//
// Payload fields are positional, as in the runtime's event manifests.
// Use Field to extract them with a type check:
//
//	gen, ok := runtimeevents.Field[uint32](e, 1)
package runtimeevents // import "github.com/lightstep/runtime-events-go/lightstep/instrumentation/runtimeevents"
