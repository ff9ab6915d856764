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

//go:build windows

package riotee

import (
	"errors"

	"golang.org/x/sys/windows"
)

// ERROR_NO_SUCH_DEVICE is not exported by x/sys/windows.
const errNoSuchDevice windows.Errno = 433

// isDeviceGoneError checks for Windows errors returned by a COM port whose
// USB device has been removed.
func isDeviceGoneError(err error) bool {
	var errno windows.Errno
	if !errors.As(err, &errno) {
		return false
	}
	//nolint:exhaustive // Only device-gone errors matter here
	switch errno {
	case windows.ERROR_ACCESS_DENIED, windows.ERROR_GEN_FAILURE, errNoSuchDevice:
		return true
	default:
		return false
	}
}
