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

// Package frame delimits frames in the dongle's serial byte stream and
// splits frame bodies into their sentinel-terminated fields.
package frame

import "errors"

// Frame markers and field delimiter
const (
	StartMarker = 0x5B // '['
	EndMarker   = 0x5D // ']'
	Sentinel    = 0x00 // terminates every field inside a frame
)

// Frame size limits
const (
	// FieldCount is the number of sentinel-terminated fields in a frame body:
	// device id, packet id, ack id and payload.
	FieldCount = 4

	// MaxBodyLen bounds the bytes buffered while looking for the closing marker.
	// The largest legal body is 352 bytes (8+4+4+332 encoded bytes plus four
	// sentinels); the rest is headroom. Fields after the fourth are ignored.
	MaxBodyLen = 512
)

// Framing errors. The root package wraps these in a ProtocolError.
var (
	ErrMissingSentinel = errors.New("missing field sentinel")
	ErrFrameTooLong    = errors.New("frame exceeds maximum body length")
)
