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

package runtimeevents

import "time"

// Well-known event source names.
const (
	RuntimeSourceName   = "Microsoft-Windows-DotNETRuntime"
	FrameworkSourceName = "System.Diagnostics.Eventing.FrameworkEventSource"
)

// Event is one observation from a diagnostic event source.  Events
// are immutable once published.
type Event struct {
	// Source is the name of the emitting event source.
	Source string
	// ID identifies the kind of event within its source.
	ID int
	// Name is informational.
	Name string
	// Timestamp is when the runtime wrote the event.  A zero
	// Timestamp means the time of delivery.
	Timestamp time.Time
	// OSThreadID is the thread that wrote the event.
	OSThreadID int64
	// Payload holds the event fields in manifest order.
	Payload []any
}

// Field returns payload field i as a T.  It reports false when the
// field is missing or has a different type, which happens routinely
// as event schemas evolve between runtime versions.
func Field[T any](e Event, i int) (T, bool) {
	var zero T
	if i < 0 || i >= len(e.Payload) {
		return zero, false
	}
	v, ok := e.Payload[i].(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Level is an event verbosity level.
type Level int

const (
	LevelLogAlways     Level = 0
	LevelCritical      Level = 1
	LevelError         Level = 2
	LevelWarning       Level = 3
	LevelInformational Level = 4
	LevelVerbose       Level = 5
)

// Keywords select event categories within a source.
type Keywords uint64

// Runtime source keywords.
const (
	KeywordGC         Keywords = 0x1
	KeywordJit        Keywords = 0x10
	KeywordContention Keywords = 0x4000
	KeywordException  Keywords = 0x8000
	KeywordThreading  Keywords = 0x10000
)

// Framework source keywords.
const (
	KeywordThreadPool Keywords = 0x2
)

// Subscription names the events a collector wants.
type Subscription struct {
	Source   string
	Level    Level
	Keywords Keywords
}

// Matches reports whether e falls within the subscription.  Events
// do not carry their keywords, so only the source name is compared;
// sources are expected to honour Level and Keywords when enabling
// events.
func (s Subscription) Matches(e Event) bool {
	return s.Source == e.Source
}
