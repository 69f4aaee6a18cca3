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

// Package eventpair matches runtime events that begin an activity
// with the events that end it.
//
// A Correlator is configured with the start and stop event IDs of
// one activity and a function extracting the key shared by both
// events.  Observe classifies each event:
//
//	start, tracked by the sampler   Started, entry recorded
//	start, not tracked              NoMatch
//	stop, entry for key present     Completed, entry removed
//	stop, entry absent              NoMatch
//	anything else                   NoMatch
//
// A stop without a matching start is routine: the start was not
// sampled, expired, or happened before the listener attached.
package eventpair // import "github.com/lightstep/runtime-events-go/lightstep/instrumentation/eventpair"
