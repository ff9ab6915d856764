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
	"fmt"
	"time"

	"github.com/ZaparooProject/go-riotee/detection"
)

// TransportFactory is a function type for creating transports
type TransportFactory func(path string) (Transport, error)

// TransportFromDeviceFactory is a function type for creating transports from detected devices
type TransportFromDeviceFactory func(device detection.DeviceInfo) (Transport, error)

// DeviceDetector finds the single dongle to connect to
type DeviceDetector func(ctx context.Context, opts *detection.Options) (detection.DeviceInfo, error)

// ConnectOption represents a functional option for ConnectTransceiver
type ConnectOption func(*connectConfig) error

// connectConfig holds configuration options for connecting to the dongle
type connectConfig struct {
	transportFactory       TransportFactory
	transportDeviceFactory TransportFromDeviceFactory
	deviceDetector         DeviceDetector
	detectionOptions       *detection.Options
	retryConfig            *RetryConfig
	transceiverOptions     []Option
	autoDetect             bool
}

// WithAutoDetection enables discovery of the dongle by USB VID/PID instead
// of a fixed path
func WithAutoDetection() ConnectOption {
	return func(c *connectConfig) error {
		c.autoDetect = true
		return nil
	}
}

// WithTransportFactory sets the transport factory function
func WithTransportFactory(factory TransportFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.transportFactory = factory
		return nil
	}
}

// WithTransportFromDeviceFactory sets the transport from device factory function
func WithTransportFromDeviceFactory(factory TransportFromDeviceFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.transportDeviceFactory = factory
		return nil
	}
}

// WithDeviceDetector sets a custom device detector function for auto-detection
func WithDeviceDetector(detector DeviceDetector) ConnectOption {
	return func(c *connectConfig) error {
		c.deviceDetector = detector
		return nil
	}
}

// WithDetectionOptions sets the options passed to the device detector
func WithDetectionOptions(opts detection.Options) ConnectOption {
	return func(c *connectConfig) error {
		c.detectionOptions = &opts
		return nil
	}
}

// WithConnectionRetries sets the number of attempts to open the port
func WithConnectionRetries(maxAttempts int) ConnectOption {
	return func(c *connectConfig) error {
		if maxAttempts < 1 {
			return fmt.Errorf("connection retries must be at least 1, got %d", maxAttempts)
		}
		c.retryConfig.MaxAttempts = maxAttempts
		return nil
	}
}

// WithOpenBackoff sets the first and the largest delay between open attempts
func WithOpenBackoff(initial, maxBackoff time.Duration) ConnectOption {
	return func(c *connectConfig) error {
		if initial <= 0 || maxBackoff < initial {
			return fmt.Errorf("invalid open backoff %v..%v", initial, maxBackoff)
		}
		c.retryConfig.InitialBackoff = initial
		c.retryConfig.MaxBackoff = maxBackoff
		return nil
	}
}

// WithTransceiverOptions adds options applied to the created transceiver
func WithTransceiverOptions(opts ...Option) ConnectOption {
	return func(c *connectConfig) error {
		c.transceiverOptions = append(c.transceiverOptions, opts...)
		return nil
	}
}

func applyConnectOptions(opts []ConnectOption) (*connectConfig, error) {
	config := &connectConfig{
		deviceDetector: detection.Find,
		retryConfig:    DefaultRetryConfig(),
	}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply connect option: %w", err)
		}
	}

	return config, nil
}

// ConnectTransceiver opens the dongle at path, or discovers it when path is
// empty or WithAutoDetection is given, and wraps it in a Transceiver.
//
// Discovery runs once: finding no dongle or more than one is fatal, and a
// discovery timeout is returned as a TransportError of ErrorTypeTimeout. Opening
// the port is retried, since a USB CDC port may not accept opens for a
// moment after it enumerates.
//
// Example usage:
//
//	// Connect to a specific port
//	tcv, err := riotee.ConnectTransceiver(ctx, "/dev/ttyACM0",
//		riotee.WithTransportFactory(uartFactory))
//
//	// Discover the dongle
//	tcv, err := riotee.ConnectTransceiver(ctx, "", riotee.WithAutoDetection(),
//		riotee.WithTransportFromDeviceFactory(uartDeviceFactory))
func ConnectTransceiver(ctx context.Context, path string, opts ...ConnectOption) (*Transceiver, error) {
	config, err := applyConnectOptions(opts)
	if err != nil {
		return nil, err
	}

	open, err := resolveOpener(ctx, path, config)
	if err != nil {
		return nil, err
	}

	retry := *config.retryConfig
	retry.OnRetry = func(attempt int, err error, sleep time.Duration) {
		logger := Logger()
		logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", sleep).Msg("open failed, retrying")
	}

	var transport Transport
	err = RetryWithConfig(ctx, &retry, func(context.Context) error {
		var openErr error
		transport, openErr = open()
		return openErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open transport: %w", err)
	}

	tcv, err := NewTransceiver(transport, config.transceiverOptions...)
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("failed to create transceiver: %w", err)
	}
	return tcv, nil
}

// resolveOpener picks the port to open, discovering it if needed, and
// returns a function opening it.
func resolveOpener(ctx context.Context, path string, config *connectConfig) (func() (Transport, error), error) {
	if !config.autoDetect && path != "" {
		if config.transportFactory == nil {
			return nil, errors.New("transport factory not provided")
		}
		return func() (Transport, error) {
			return config.transportFactory(path)
		}, nil
	}

	if config.transportDeviceFactory == nil {
		return nil, errors.New("transport device factory not provided")
	}
	if config.deviceDetector == nil {
		return nil, errors.New("device detector not provided")
	}

	detectOpts := config.detectionOptions
	if detectOpts == nil {
		defaults := detection.DefaultOptions()
		detectOpts = &defaults
	}

	device, err := config.deviceDetector(ctx, detectOpts)
	if errors.Is(err, detection.ErrDetectionTimeout) {
		return nil, NewTransportError("detect", "", err, ErrorTypeTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to detect dongle: %w", err)
	}
	Debugf("detected %s", device)

	return func() (Transport, error) {
		return config.transportDeviceFactory(device)
	}, nil
}
