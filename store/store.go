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

// Package store queues packets received from the dongle per device until a
// client retrieves them.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ZaparooProject/go-riotee"
	"github.com/ZaparooProject/go-riotee/internal/metrics"
	"github.com/ZaparooProject/go-riotee/internal/syncutil"
)

// DefaultCapacity is the number of packets a device queue holds before
// AddPacket blocks.
const DefaultCapacity = 1024

// ErrNotFound reports an unknown device or an empty queue.
var ErrNotFound = errors.New("not found")

// Option configures a Store
type Option func(*Store) error

// WithCapacity sets the per-device queue capacity.
func WithCapacity(capacity int) Option {
	return func(s *Store) error {
		if capacity < 1 {
			return fmt.Errorf("queue capacity must be at least 1, got %d", capacity)
		}
		s.capacity = capacity
		return nil
	}
}

// Store holds one bounded FIFO queue per device. Queues are created the
// first time a device sends a packet and live as long as the store.
//
// The map is guarded by an RWMutex; each queue is a buffered channel, so
// operations on different devices never wait on each other. Packets of one
// device are retrieved in the order AddPacket accepted them.
type Store struct {
	queues   map[riotee.DeviceID]chan riotee.Packet
	mu       syncutil.RWMutex
	capacity int
}

// New creates an empty store.
func New(opts ...Option) (*Store, error) {
	s := &Store{
		queues:   make(map[riotee.DeviceID]chan riotee.Packet),
		capacity: DefaultCapacity,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Capacity returns the per-device queue capacity.
func (s *Store) Capacity() int {
	return s.capacity
}

// AddPacket appends pkt to its device's queue, creating the queue if needed.
// When the queue is full AddPacket blocks until a consumer makes room or ctx
// ends, in which case the packet is not stored and ctx's error is returned.
func (s *Store) AddPacket(ctx context.Context, pkt riotee.Packet) error {
	q := s.queueFor(pkt.DeviceID)

	select {
	case q <- pkt:
		return nil
	default:
	}

	metrics.RecordBackpressure()
	riotee.Debugf("queue for %s full, waiting", pkt.DeviceID)

	select {
	case q <- pkt:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("add packet for %s: %w", pkt.DeviceID, ctx.Err())
	}
}

// PopOne removes and returns the oldest packet of dev without blocking.
func (s *Store) PopOne(dev riotee.DeviceID) (riotee.Packet, error) {
	q, ok := s.queue(dev)
	if !ok {
		return riotee.Packet{}, fmt.Errorf("device %s: %w", dev, ErrNotFound)
	}
	select {
	case pkt := <-q:
		return pkt, nil
	default:
		return riotee.Packet{}, fmt.Errorf("device %s has no packets: %w", dev, ErrNotFound)
	}
}

// DrainAll removes the packets queued for dev when it is called, oldest
// first. Packets arriving meanwhile stay queued. Unknown devices yield an
// empty slice.
func (s *Store) DrainAll(dev riotee.DeviceID) []riotee.Packet {
	q, ok := s.queue(dev)
	if !ok {
		return []riotee.Packet{}
	}
	return drain(q)
}

// DrainEvery drains the queue of every known device.
func (s *Store) DrainEvery() map[riotee.DeviceID][]riotee.Packet {
	s.mu.RLock()
	queues := make(map[riotee.DeviceID]chan riotee.Packet, len(s.queues))
	for dev, q := range s.queues {
		queues[dev] = q
	}
	s.mu.RUnlock()

	out := make(map[riotee.DeviceID][]riotee.Packet, len(queues))
	for dev, q := range queues {
		out[dev] = drain(q)
	}
	return out
}

// ListDevices returns every device that has sent a packet, sorted by id.
func (s *Store) ListDevices() []riotee.DeviceID {
	s.mu.RLock()
	devices := make([]riotee.DeviceID, 0, len(s.queues))
	for dev := range s.queues {
		devices = append(devices, dev)
	}
	s.mu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		return bytes.Compare(devices[i][:], devices[j][:]) < 0
	})
	return devices
}

// QueueDepth returns the number of packets waiting for dev.
func (s *Store) QueueDepth(dev riotee.DeviceID) (int, error) {
	q, ok := s.queue(dev)
	if !ok {
		return 0, fmt.Errorf("device %s: %w", dev, ErrNotFound)
	}
	return len(q), nil
}

// Depths returns the queue depth of every device keyed by its id text.
func (s *Store) Depths() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.queues))
	for dev, q := range s.queues {
		out[dev.String()] = len(q)
	}
	return out
}

func (s *Store) queue(dev riotee.DeviceID) (chan riotee.Packet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queues[dev]
	return q, ok
}

func (s *Store) queueFor(dev riotee.DeviceID) chan riotee.Packet {
	if q, ok := s.queue(dev); ok {
		return q
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[dev]
	if !ok {
		q = make(chan riotee.Packet, s.capacity)
		s.queues[dev] = q
	}
	return q
}

// drain removes at most the packets present on entry.
func drain(q chan riotee.Packet) []riotee.Packet {
	n := len(q)
	out := make([]riotee.Packet, 0, n)
	for range n {
		select {
		case pkt := <-q:
			out = append(out, pkt)
		default:
			return out
		}
	}
	return out
}
