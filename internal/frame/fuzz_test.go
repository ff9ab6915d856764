// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
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

package frame

import (
	"testing"
)

// These fuzz tests guard the framing code against malformed input from the
// serial link: a dongle reset mid-frame or line noise must never panic the
// ingestion path.
//
// Run with: go test -fuzz=FuzzScannerChunkInvariance -fuzztime=30s ./internal/frame/

// FuzzScannerChunkInvariance checks that splitting the stream at an arbitrary
// point never changes the emitted frame bodies.
func FuzzScannerChunkInvariance(f *testing.F) {
	f.Add([]byte("[AQAAAA==\x00KgA=\x00AAA=\x00aGk=\x00]"), 3)
	f.Add([]byte("noise[a][b]tail["), 0)
	f.Add([]byte("]]][[["), 2)
	f.Add([]byte{}, 0)

	f.Fuzz(func(t *testing.T, stream []byte, split int) {
		if len(stream) > MaxBodyLen {
			// Oversized frames are dropped wherever the limit is crossed.
			t.Skip()
		}
		n := len(stream) + 1
		split = ((split % n) + n) % n

		whole := collect(stream)
		parts := collect(stream[:split], stream[split:])
		if len(whole) != len(parts) {
			t.Fatalf("frame count differs: %d vs %d", len(whole), len(parts))
		}
		for i := range whole {
			if whole[i] != parts[i] {
				t.Fatalf("frame %d differs: %q vs %q", i, whole[i], parts[i])
			}
		}
	})
}

// FuzzSplitFields ensures field splitting handles every body without panicking.
func FuzzSplitFields(f *testing.F) {
	f.Add([]byte("AQAAAA==\x00KgA=\x00AAA=\x00aGk=\x00"))
	f.Add([]byte("\x00\x00\x00"))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, body []byte) {
		fields, err := SplitFields(body, FieldCount)
		if err == nil && len(fields) != FieldCount {
			t.Fatalf("got %d fields without error", len(fields))
		}
	})
}

func collect(chunks ...[]byte) []string {
	s := NewScanner(nil)
	var out []string
	for _, c := range chunks {
		s.Push(c)
		for {
			body, complete, err := s.Scan()
			if err != nil || !complete {
				break
			}
			out = append(out, string(body))
		}
	}
	return out
}
