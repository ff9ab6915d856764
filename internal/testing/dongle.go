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

// Package testing provides simulated serial links for tests.
package testing

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// VirtualDongle simulates the serial port of a gateway dongle. Bytes injected
// with Inject are returned by Read; bytes written by the host are recorded.
// Read blocks for at most ReadTimeout and then returns (0, nil), matching a
// go.bug.st/serial port with a read timeout set.
type VirtualDongle struct {
	rx          bytes.Buffer
	tx          bytes.Buffer
	dataReady   chan struct{}
	closed      chan struct{}
	name        string
	ReadTimeout time.Duration
	mu          sync.Mutex
	closeCount  int
	writeErr    error
}

// NewVirtualDongle creates a simulated dongle port with the given name.
func NewVirtualDongle(name string) *VirtualDongle {
	return &VirtualDongle{
		name:        name,
		dataReady:   make(chan struct{}, 1),
		closed:      make(chan struct{}),
		ReadTimeout: 20 * time.Millisecond,
	}
}

// Name returns the simulated port path.
func (v *VirtualDongle) Name() string {
	return v.name
}

// Inject queues bytes as if the dongle had sent them.
func (v *VirtualDongle) Inject(data []byte) {
	v.mu.Lock()
	_, _ = v.rx.Write(data)
	v.mu.Unlock()

	select {
	case v.dataReady <- struct{}{}:
	default:
	}
}

// Read returns injected bytes, waiting up to ReadTimeout for them.
func (v *VirtualDongle) Read(buf []byte) (int, error) {
	deadline := time.NewTimer(v.ReadTimeout)
	defer deadline.Stop()

	for {
		v.mu.Lock()
		if v.rx.Len() > 0 {
			n, _ := v.rx.Read(buf)
			v.mu.Unlock()
			return n, nil
		}
		v.mu.Unlock()

		select {
		case <-v.closed:
			return 0, io.ErrClosedPipe
		case <-v.dataReady:
		case <-deadline.C:
			return 0, nil
		}
	}
}

// Write records bytes sent by the host.
func (v *VirtualDongle) Write(data []byte) (int, error) {
	select {
	case <-v.closed:
		return 0, io.ErrClosedPipe
	default:
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.writeErr != nil {
		return 0, v.writeErr
	}
	return v.tx.Write(data) //nolint:wrapcheck // bytes.Buffer never fails
}

// FailWrites makes every following Write return err.
func (v *VirtualDongle) FailWrites(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.writeErr = err
}

// Written returns a copy of everything the host has written so far.
func (v *VirtualDongle) Written() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return bytes.Clone(v.tx.Bytes())
}

// Close closes the port. Reads and writes fail afterwards.
func (v *VirtualDongle) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closeCount++
	if v.closeCount == 1 {
		close(v.closed)
	}
	return nil
}

// CloseCount reports how many times Close was called.
func (v *VirtualDongle) CloseCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closeCount
}
