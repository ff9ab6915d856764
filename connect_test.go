// go-riotee
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-riotee.
//
// go-riotee is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-riotee is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-riotee; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package riotee

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZaparooProject/go-riotee/detection"
	simtest "github.com/ZaparooProject/go-riotee/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOpen() ConnectOption {
	return WithOpenBackoff(time.Millisecond, 2*time.Millisecond)
}

func TestConnectTransceiver_ExplicitPath(t *testing.T) {
	t.Parallel()

	dongle := simtest.NewVirtualDongle("/dev/ttyACM3")
	var opened []string
	tcv, err := ConnectTransceiver(context.Background(), "/dev/ttyACM3",
		WithTransportFactory(func(path string) (Transport, error) {
			opened = append(opened, path)
			return dongle, nil
		}),
		WithDeviceDetector(func(context.Context, *detection.Options) (detection.DeviceInfo, error) {
			t.Fatal("detector must not run for an explicit path")
			return detection.DeviceInfo{}, nil
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/ttyACM3"}, opened)
	assert.Same(t, Transport(dongle), tcv.Transport())
}

func TestConnectTransceiver_AutoDetect(t *testing.T) {
	t.Parallel()

	found := detection.DeviceInfo{Path: "/dev/ttyACM0", VIDPID: "1209:C8A2", SerialNumber: "ABC"}
	var gotOpts *detection.Options
	tcv, err := ConnectTransceiver(context.Background(), "",
		WithDeviceDetector(func(_ context.Context, opts *detection.Options) (detection.DeviceInfo, error) {
			gotOpts = opts
			return found, nil
		}),
		WithTransportFromDeviceFactory(func(dev detection.DeviceInfo) (Transport, error) {
			return simtest.NewVirtualDongle(dev.Path), nil
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", tcv.Transport().Name())
	require.NotNil(t, gotOpts)
	assert.Equal(t, detection.DefaultOptions().Match, gotOpts.Match)
}

func TestConnectTransceiver_AutoDetectionOverridesPath(t *testing.T) {
	t.Parallel()

	tcv, err := ConnectTransceiver(context.Background(), "/dev/ignored",
		WithAutoDetection(),
		WithDetectionOptions(detection.Options{IgnorePaths: []string{"/dev/ttyACM0"}}),
		WithDeviceDetector(func(_ context.Context, opts *detection.Options) (detection.DeviceInfo, error) {
			assert.Equal(t, []string{"/dev/ttyACM0"}, opts.IgnorePaths)
			return detection.DeviceInfo{Path: "/dev/ttyACM1"}, nil
		}),
		WithTransportFromDeviceFactory(func(dev detection.DeviceInfo) (Transport, error) {
			return simtest.NewVirtualDongle(dev.Path), nil
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM1", tcv.Transport().Name())
}

func TestConnectTransceiver_DetectionErrorsAreFatal(t *testing.T) {
	t.Parallel()

	for _, detectErr := range []error{detection.ErrNoDevicesFound, detection.ErrAmbiguousDevice} {
		calls := 0
		_, err := ConnectTransceiver(context.Background(), "",
			fastOpen(),
			WithDeviceDetector(func(context.Context, *detection.Options) (detection.DeviceInfo, error) {
				calls++
				return detection.DeviceInfo{}, detectErr
			}),
			WithTransportFromDeviceFactory(func(detection.DeviceInfo) (Transport, error) {
				t.Fatal("nothing to open")
				return nil, nil
			}),
		)
		require.ErrorIs(t, err, detectErr)
		assert.True(t, IsFatal(err))
		assert.Equal(t, 1, calls, "discovery runs once")
	}
}

func TestConnectTransceiver_DetectionTimeout(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := ConnectTransceiver(context.Background(), "",
		fastOpen(),
		WithDeviceDetector(func(context.Context, *detection.Options) (detection.DeviceInfo, error) {
			calls++
			return detection.DeviceInfo{}, detection.ErrDetectionTimeout
		}),
		WithTransportFromDeviceFactory(func(detection.DeviceInfo) (Transport, error) {
			t.Fatal("nothing to open")
			return nil, nil
		}),
	)
	require.ErrorIs(t, err, detection.ErrDetectionTimeout)
	assert.Equal(t, 1, calls)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ErrorTypeTimeout, te.Type)
	assert.Equal(t, "detect", te.Op)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsFatal(err))
}

func TestConnectTransceiver_RetriesTransientOpenErrors(t *testing.T) {
	t.Parallel()

	attempts := 0
	dongle := simtest.NewVirtualDongle("/dev/ttyACM0")
	tcv, err := ConnectTransceiver(context.Background(), "/dev/ttyACM0",
		fastOpen(),
		WithConnectionRetries(3),
		WithTransportFactory(func(path string) (Transport, error) {
			attempts++
			if attempts < 3 {
				return nil, NewTransportError("open", path, errors.New("port busy"), ErrorTypeTransient)
			}
			return dongle, nil
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.NotNil(t, tcv)
}

func TestConnectTransceiver_PermanentOpenErrorFailsImmediately(t *testing.T) {
	t.Parallel()

	attempts := 0
	_, err := ConnectTransceiver(context.Background(), "/dev/nope",
		fastOpen(),
		WithConnectionRetries(5),
		WithTransportFactory(func(path string) (Transport, error) {
			attempts++
			return nil, NewTransportError("open", path, errors.New("no such file"), ErrorTypePermanent)
		}),
	)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Contains(t, err.Error(), "failed to open transport")
}

func TestConnectTransceiver_ClosesTransportOnBadOptions(t *testing.T) {
	t.Parallel()

	dongle := simtest.NewVirtualDongle("/dev/ttyACM0")
	_, err := ConnectTransceiver(context.Background(), "/dev/ttyACM0",
		WithTransportFactory(func(string) (Transport, error) { return dongle, nil }),
		WithTransceiverOptions(WithClock(nil)),
	)
	require.Error(t, err)
	assert.Equal(t, 1, dongle.CloseCount())
}

func TestConnectTransceiver_MissingFactories(t *testing.T) {
	t.Parallel()

	_, err := ConnectTransceiver(context.Background(), "/dev/ttyACM0")
	require.Error(t, err)

	_, err = ConnectTransceiver(context.Background(), "")
	require.Error(t, err)

	_, err = ConnectTransceiver(context.Background(), "", WithConnectionRetries(0))
	require.Error(t, err)

	_, err = ConnectTransceiver(context.Background(), "", WithOpenBackoff(time.Second, time.Millisecond))
	require.Error(t, err)
}
