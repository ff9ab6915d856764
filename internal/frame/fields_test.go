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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		want      []string
		wantIndex int
		wantErr   bool
	}{
		{
			name: "four fields",
			body: "AQAAAA==\x00KgA=\x00AAA=\x00aGk=\x00",
			want: []string{"AQAAAA==", "KgA=", "AAA=", "aGk="},
		},
		{
			name: "empty payload field",
			body: "AQAAAA==\x00KgA=\x00AAA=\x00\x00",
			want: []string{"AQAAAA==", "KgA=", "AAA=", ""},
		},
		{
			name: "trailing field ignored",
			body: "a\x00b\x00c\x00d\x00extra\x00",
			want: []string{"a", "b", "c", "d"},
		},
		{
			name:      "payload sentinel missing",
			body:      "AQAAAA==\x00KgA=\x00AAA=\x00aGk=",
			wantErr:   true,
			wantIndex: 3,
		},
		{
			name:      "empty body",
			body:      "",
			wantErr:   true,
			wantIndex: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fields, err := SplitFields([]byte(tt.body), FieldCount)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMissingSentinel)
				var fe *FieldError
				require.ErrorAs(t, err, &fe)
				assert.Equal(t, tt.wantIndex, fe.Index)
				return
			}
			require.NoError(t, err)
			got := make([]string, len(fields))
			for i, f := range fields {
				got[i] = string(f)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAppendField(t *testing.T) {
	t.Parallel()

	out := AppendField([]byte{StartMarker}, []byte("KgA="))
	assert.Equal(t, []byte("[KgA=\x00"), out)
}
