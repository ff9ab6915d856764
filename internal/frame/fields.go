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
	"bytes"
	"fmt"
)

// FieldError reports which field of a frame body could not be delimited.
type FieldError struct {
	Err   error
	Index int
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %d: %v", e.Index, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// SplitFields splits a frame body into exactly n sentinel-terminated fields.
// Bytes following the n-th sentinel are ignored. The returned slices alias body.
func SplitFields(body []byte, n int) ([][]byte, error) {
	fields := make([][]byte, 0, n)
	rest := body
	for i := range n {
		idx := bytes.IndexByte(rest, Sentinel)
		if idx < 0 {
			return nil, &FieldError{Index: i, Err: ErrMissingSentinel}
		}
		fields = append(fields, rest[:idx])
		rest = rest[idx+1:]
	}
	return fields, nil
}

// AppendField appends an encoded field followed by its sentinel.
func AppendField(dst, encoded []byte) []byte {
	dst = append(dst, encoded...)
	return append(dst, Sentinel)
}
