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

package detection

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// FormatVIDPID joins the hex VID and PID reported by the enumerator into the
// canonical "VVVV:PPPP" form. Missing leading zeros are restored.
func FormatVIDPID(vid, pid string) string {
	return normalizeHexID(vid) + ":" + normalizeHexID(pid)
}

// ParseVIDPID parses "VVVV:PPPP" (case-insensitive, optional 0x prefixes)
// into its canonical form.
func ParseVIDPID(s string) (string, error) {
	vid, pid, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return "", fmt.Errorf("invalid VID:PID %q", s)
	}
	for _, part := range []string{vid, pid} {
		if _, err := strconv.ParseUint(trimHexPrefix(part), 16, 16); err != nil {
			return "", fmt.Errorf("invalid VID:PID %q: %w", s, err)
		}
	}
	return FormatVIDPID(vid, pid), nil
}

// IsBlocked reports whether vidpid appears in the blocklist.
func IsBlocked(vidpid string, blocklist []string) bool {
	return containsVIDPID(blocklist, vidpid)
}

// IsMatched reports whether vidpid appears in the list of dongle IDs to
// look for.
func IsMatched(vidpid string, match []string) bool {
	return containsVIDPID(match, vidpid)
}

// containsVIDPID compares entries in canonical form; unparsable entries never
// match.
func containsVIDPID(list []string, vidpid string) bool {
	want, err := ParseVIDPID(vidpid)
	if err != nil {
		return false
	}
	for _, entry := range list {
		if got, err := ParseVIDPID(entry); err == nil && got == want {
			return true
		}
	}
	return false
}

// IsPathIgnored checks if a device path should be ignored.
// Supports exact path matching and normalized path comparison.
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" || len(ignorePaths) == 0 {
		return false
	}

	normalizedDevice := normalizedPath(devicePath)
	for _, ignorePath := range ignorePaths {
		if ignorePath == "" {
			continue
		}
		if devicePath == ignorePath || normalizedDevice == normalizedPath(ignorePath) {
			return true
		}
	}
	return false
}

// normalizedPath cleans a path and lowercases it, since Windows COM names
// are case-insensitive.
func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}

func normalizeHexID(s string) string {
	s = strings.ToUpper(trimHexPrefix(strings.TrimSpace(s)))
	if len(s) < 4 {
		s = strings.Repeat("0", 4-len(s)) + s
	}
	return s
}

func trimHexPrefix(s string) string {
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
