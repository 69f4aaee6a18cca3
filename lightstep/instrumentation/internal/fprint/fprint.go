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

// Package fprint computes fingerprints of correlation keys for
// choosing a cache shard.
package fprint

import (
	"hash/maphash"
	"unsafe"

	// Our use of farmhash is sort of arbitrary: we want a fast
	// fingerprint function and farmhash is familiar.  Nothing
	// here depends on the values staying fixed across releases.
	farm "github.com/dgryski/go-farm"
)

// Mix combines multiple fingerprints together.
func Mix(is ...uint64) uint64 {
	if len(is) == 0 {
		return 0
	}
	accumulator := is[0]
	for _, i := range is[1:] {
		accumulator = mix(accumulator, i)
	}
	return accumulator
}

// Borrowed from farmhash.
func mix(x uint64, y uint64) uint64 {
	const mul uint64 = 0x9ddfea08eb382d69
	a := (x ^ y) * mul
	a ^= a >> 47
	b := (y ^ a) * mul
	b ^= b >> 47
	b *= mul
	return b
}

// ScrambleBits spreads the entropy of small integer keys (thread
// IDs, sequence numbers) across all 64 bits.  This is the
// MurmurHash3 finalizer.
func ScrambleBits(key uint64) uint64 {
	key ^= key >> 33
	key *= 0xff51afd7ed558ccd
	key ^= key >> 33
	key *= 0xc4ceb9fe1a85ec53
	key ^= key >> 33
	return key
}

// Fingerprint64 fingerprints a byte slice.
func Fingerprint64(s []byte) uint64 {
	return farm.Fingerprint64(s)
}

// FingerprintString fingerprints a string without copying it.  The
// go-farm implementation does not modify its input.
func FingerprintString(s string) uint64 {
	bs, err := unsafeStringToBytes(s)
	if err != nil {
		bs = []byte(s)
	}
	return Fingerprint64(bs)
}

// FingerprintUint64 fingerprints an unsigned integer key.
func FingerprintUint64(i uint64) uint64 {
	return ScrambleBits(i)
}

// FingerprintInt64 fingerprints a signed integer key.
func FingerprintInt64(i int64) uint64 {
	return ScrambleBits(uint64(i))
}

// For returns a fingerprint function for keys of type K.  Strings
// and the builtin integer types use the functions above; any other
// comparable type falls back to hash/maphash with a per-call seed.
func For[K comparable]() func(K) uint64 {
	var zero K
	// The type switch matches exact types only, so the unsafe
	// conversions below never see a defined type with a different
	// layout.
	switch any(zero).(type) {
	case string:
		return func(k K) uint64 { return FingerprintString(*(*string)(unsafe.Pointer(&k))) }
	case int:
		return func(k K) uint64 { return FingerprintInt64(int64(*(*int)(unsafe.Pointer(&k)))) }
	case int32:
		return func(k K) uint64 { return FingerprintInt64(int64(*(*int32)(unsafe.Pointer(&k)))) }
	case int64:
		return func(k K) uint64 { return FingerprintInt64(*(*int64)(unsafe.Pointer(&k))) }
	case uint:
		return func(k K) uint64 { return FingerprintUint64(uint64(*(*uint)(unsafe.Pointer(&k)))) }
	case uint32:
		return func(k K) uint64 { return FingerprintUint64(uint64(*(*uint32)(unsafe.Pointer(&k)))) }
	case uint64:
		return func(k K) uint64 { return FingerprintUint64(*(*uint64)(unsafe.Pointer(&k))) }
	}
	seed := maphash.MakeSeed()
	return func(k K) uint64 {
		return maphash.Comparable(seed, k)
	}
}
