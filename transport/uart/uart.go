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

// Package uart opens the gateway dongle's USB CDC serial port.
package uart

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ZaparooProject/go-riotee"
	"github.com/ZaparooProject/go-riotee/detection"
	"go.bug.st/serial"
)

// DefaultBaudRate is the line rate of the dongle firmware.
const DefaultBaudRate = 1_000_000

// openPort is replaced in tests.
var openPort = serial.Open

// Transport implements riotee.Transport over a serial port.
//
// Read must only be called from one goroutine at a time, as must Write.
// A Read and a Write may run concurrently.
type Transport struct {
	port     serial.Port
	portName string
	mu       sync.Mutex
	closed   bool
}

// readTimeout returns how long a Read waits for data before returning
// (0, nil). Windows CDC drivers need a longer slice.
func readTimeout() time.Duration {
	if runtime.GOOS == "windows" {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// New opens portName at baud 8N1. A baud of 0 selects DefaultBaudRate.
// Errors are *riotee.TransportError; a busy or not yet present port is
// retryable.
func New(portName string, baud int) (*Transport, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	port, err := openPort(portName, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, riotee.NewTransportError("open", portName, err, classifyOpenError(err))
	}

	if err := port.SetReadTimeout(readTimeout()); err != nil {
		_ = port.Close()
		return nil, riotee.NewTransportError("set read timeout", portName, err, riotee.ErrorTypePermanent)
	}

	// Bytes buffered before we opened belong to no frame we can trust.
	if err := port.ResetInputBuffer(); err != nil {
		riotee.Debugf("UART %s: reset input buffer failed: %v", portName, err)
	}

	return &Transport{
		port:     port,
		portName: portName,
	}, nil
}

// FromDevice returns a factory opening detected dongles at baud.
func FromDevice(baud int) func(detection.DeviceInfo) (riotee.Transport, error) {
	return func(device detection.DeviceInfo) (riotee.Transport, error) {
		return New(device.Path, baud)
	}
}

// FromPath returns a factory opening a fixed port path at baud.
func FromPath(baud int) func(string) (riotee.Transport, error) {
	return func(path string) (riotee.Transport, error) {
		return New(path, baud)
	}
}

// Name returns the port path
func (t *Transport) Name() string {
	return t.portName
}

// Read reads available bytes. It returns (0, nil) when the read timeout
// expires without data.
func (t *Transport) Read(buf []byte) (int, error) {
	if t.isClosed() {
		return 0, riotee.NewTransportClosedError("read", t.portName)
	}
	for {
		n, err := t.port.Read(buf)
		if err != nil && n == 0 && isInterruptedSystemCall(err) {
			continue
		}
		if err != nil {
			if t.isClosed() {
				return n, riotee.NewTransportClosedError("read", t.portName)
			}
			return n, fmt.Errorf("UART read failed: %w", err)
		}
		return n, nil
	}
}

// Write writes all of data and waits for it to leave the host buffer.
func (t *Transport) Write(data []byte) (int, error) {
	if t.isClosed() {
		return 0, riotee.NewTransportClosedError("write", t.portName)
	}

	written := 0
	for written < len(data) {
		n, err := t.port.Write(data[written:])
		written += n
		if err != nil {
			if isInterruptedSystemCall(err) {
				continue
			}
			return written, fmt.Errorf("UART write failed: %w", err)
		}
		if n == 0 {
			return written, riotee.NewTransportWriteError("write", t.portName)
		}
	}

	if err := t.drainWithRetry("write"); err != nil {
		return written, err
	}
	return written, nil
}

// Close closes the port. Calls after the first return nil.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.port == nil {
		return nil
	}
	t.closed = true
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// classifyOpenError marks errors worth another open attempt as transient.
func classifyOpenError(err error) riotee.ErrorType {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortBusy, serial.PortNotFound:
			return riotee.ErrorTypeTransient
		default:
			return riotee.ErrorTypePermanent
		}
	}
	return riotee.ErrorTypeTransient
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// drainWithRetry performs port drain with retry logic for interrupted system calls
func (t *Transport) drainWithRetry(operation string) error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	for attempt := range maxRetries {
		err := t.port.Drain()
		if err == nil {
			return nil
		}
		if !isInterruptedSystemCall(err) {
			return fmt.Errorf("UART %s drain failed: %w", operation, err)
		}
		if attempt < maxRetries-1 {
			time.Sleep(baseDelay << attempt)
		}
	}

	return fmt.Errorf("UART %s drain failed after %d retries", operation, maxRetries)
}

var _ riotee.Transport = (*Transport)(nil)
