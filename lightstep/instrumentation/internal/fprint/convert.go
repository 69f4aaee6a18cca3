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

package fprint

import (
	"fmt"
	"unsafe"
)

var errStringTooLong = fmt.Errorf("string length exceeds max")

// unsafeStringToBytes returns a zero-copy view of s.  The result
// must not be mutated: strings are map keys in the pending cache.
func unsafeStringToBytes(s string) ([]byte, error) {
	const max = 0x7fff0000 // ~2 GiB
	if len(s) > max {
		return nil, errStringTooLong
	}
	if len(s) == 0 {
		return nil, nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s)), nil
}
