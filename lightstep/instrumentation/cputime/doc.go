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

// Package cputime reads the CPU time consumed by this process, as
// observed by the process itself.  The readings are the denominator
// of CPU ratios computed from runtime events and the source of the
// process CPU metrics.
//
// User and system time come from getrusage(2) on Linux and Darwin
// and from gopsutil elsewhere.
//
//	ProcessTimes       user and system CPU seconds
//	ProcessCPUSeconds  user + system CPU seconds
//	CPUSecondsReader   the same, reporting failures to a given handler
//	Uptime             time since the package was initialized
package cputime // import "github.com/lightstep/runtime-events-go/lightstep/instrumentation/cputime"
