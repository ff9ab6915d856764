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

// Package detection finds the gateway dongle among the USB serial ports of
// the host by its USB vendor and product id.
package detection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.bug.st/serial/enumerator"
)

// USB identifiers of the gateway dongle
const (
	DongleVID = "1209"
	DonglePID = "C8A2"
)

// DeviceInfo represents a detected dongle
type DeviceInfo struct {
	// Additional metadata (manufacturer, product, serial)
	Metadata map[string]string
	// Connection path (e.g., "/dev/ttyACM0", "COM3")
	Path string
	// USB VID:PID in upper case hex
	VIDPID string
	// USB serial number, empty if the port reports none
	SerialNumber string
}

// String returns a human-readable representation of the device
func (d DeviceInfo) String() string {
	if d.SerialNumber != "" {
		return fmt.Sprintf("dongle %s at %s (serial %s)", d.VIDPID, d.Path, d.SerialNumber)
	}
	return fmt.Sprintf("dongle %s at %s", d.VIDPID, d.Path)
}

// Options configures the detection behavior
type Options struct {
	// USB VID:PID pairs that identify a dongle
	Match []string
	// USB VID:PID pairs to skip even if they match
	Blocklist []string
	// Device paths to explicitly ignore (e.g., ["/dev/ttyACM0", "COM2"])
	IgnorePaths []string
	// Maximum time to wait for port enumeration
	Timeout time.Duration
}

// DefaultOptions returns options matching the gateway dongle
func DefaultOptions() Options {
	return Options{
		Match:   []string{DongleVID + ":" + DonglePID},
		Timeout: 5 * time.Second,
	}
}

// Errors
var (
	// ErrNoDevicesFound indicates no dongle was detected
	ErrNoDevicesFound = errors.New("no gateway dongle found")
	// ErrAmbiguousDevice indicates more than one dongle was detected
	ErrAmbiguousDevice = errors.New("more than one gateway dongle found")
	// ErrDetectionTimeout indicates detection timed out
	ErrDetectionTimeout = errors.New("detection timeout")
)

// listPorts is replaced in tests.
var listPorts = enumerator.GetDetailedPortsList

// DetectAll lists every USB serial port matching opts, sorted by path.
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	ports, err := enumerate(ctx)
	if err != nil {
		return nil, err
	}

	var devices []DeviceInfo
	for _, port := range ports {
		if !port.IsUSB {
			continue
		}
		vidpid := FormatVIDPID(port.VID, port.PID)
		if !IsMatched(vidpid, opts.Match) || IsBlocked(vidpid, opts.Blocklist) {
			continue
		}
		if IsPathIgnored(port.Name, opts.IgnorePaths) {
			continue
		}
		devices = append(devices, newDeviceInfo(port, vidpid))
	}

	if len(devices) == 0 {
		return nil, ErrNoDevicesFound
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Path < devices[j].Path })
	return devices, nil
}

// Find returns the single dongle matching opts. It fails with
// ErrNoDevicesFound when there is none and ErrAmbiguousDevice when there is
// more than one; the gateway never guesses between dongles.
func Find(ctx context.Context, opts *Options) (DeviceInfo, error) {
	devices, err := DetectAll(ctx, opts)
	if err != nil {
		return DeviceInfo{}, err
	}
	if len(devices) > 1 {
		paths := make([]string, len(devices))
		for i, d := range devices {
			paths[i] = d.Path
		}
		return DeviceInfo{}, fmt.Errorf("%w: %s", ErrAmbiguousDevice, strings.Join(paths, ", "))
	}
	return devices[0], nil
}

type enumerateResult struct {
	err   error
	ports []*enumerator.PortDetails
}

// enumerate runs the platform enumerator, giving up when ctx ends.
func enumerate(ctx context.Context) ([]*enumerator.PortDetails, error) {
	results := make(chan enumerateResult, 1)
	go func() {
		ports, err := listPorts()
		results <- enumerateResult{ports: ports, err: err}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			return nil, fmt.Errorf("failed to enumerate serial ports: %w", res.err)
		}
		return res.ports, nil
	case <-ctx.Done():
		return nil, ErrDetectionTimeout
	}
}

func newDeviceInfo(port *enumerator.PortDetails, vidpid string) DeviceInfo {
	device := DeviceInfo{
		Path:         port.Name,
		VIDPID:       vidpid,
		SerialNumber: port.SerialNumber,
		Metadata:     make(map[string]string),
	}
	if port.Product != "" {
		device.Metadata["product"] = port.Product
	}
	if port.SerialNumber != "" {
		device.Metadata["serial"] = port.SerialNumber
	}
	return device
}
