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

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ZaparooProject/go-riotee"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	devA = riotee.DeviceIDFromUint32(1)
	devB = riotee.DeviceIDFromUint32(2)
)

func packet(dev riotee.DeviceID, id uint16) riotee.Packet {
	return riotee.Packet{DeviceID: dev, ID: &id, Payload: []byte{byte(id)}}
}

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(opts...)
	require.NoError(t, err)
	return s
}

func ids(pkts []riotee.Packet) []uint16 {
	out := make([]uint16, len(pkts))
	for i, p := range pkts {
		out[i] = p.PacketID()
	}
	return out
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	assert.Equal(t, DefaultCapacity, s.Capacity())
	assert.Empty(t, s.ListDevices())

	_, err := New(WithCapacity(0))
	require.Error(t, err)
}

func TestAddPacket_FIFO(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	for i := range uint16(5) {
		require.NoError(t, s.AddPacket(ctx, packet(devA, i)))
	}

	depth, err := s.QueueDepth(devA)
	require.NoError(t, err)
	assert.Equal(t, 5, depth)

	for i := range uint16(5) {
		pkt, err := s.PopOne(devA)
		require.NoError(t, err)
		assert.Equal(t, i, pkt.PacketID())
	}

	_, err = s.PopOne(devA)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUnknownDevice(t *testing.T) {
	t.Parallel()

	s := newStore(t)

	_, err := s.PopOne(devA)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.QueueDepth(devA)
	require.ErrorIs(t, err, ErrNotFound)

	drained := s.DrainAll(devA)
	assert.NotNil(t, drained)
	assert.Empty(t, drained)
	assert.Empty(t, s.ListDevices())
}

func TestAddPacket_BackpressureAtCapacity(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	for i := range DefaultCapacity {
		require.NoError(t, s.AddPacket(ctx, packet(devA, uint16(i))))
	}

	added := make(chan error, 1)
	go func() {
		added <- s.AddPacket(ctx, packet(devA, DefaultCapacity))
	}()

	select {
	case err := <-added:
		t.Fatalf("push beyond capacity returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	pkt, err := s.PopOne(devA)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), pkt.PacketID())

	select {
	case err := <-added:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked push did not complete after a pop")
	}

	drained := s.DrainAll(devA)
	require.Len(t, drained, DefaultCapacity)
	assert.Equal(t, uint16(1), drained[0].PacketID())
	assert.Equal(t, uint16(DefaultCapacity), drained[len(drained)-1].PacketID())
}

func TestAddPacket_CancelledWhileFull(t *testing.T) {
	t.Parallel()

	s := newStore(t, WithCapacity(1))
	require.NoError(t, s.AddPacket(context.Background(), packet(devA, 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.AddPacket(ctx, packet(devA, 2))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	depth, err := s.QueueDepth(devA)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestFullQueueDoesNotBlockOtherDevices(t *testing.T) {
	t.Parallel()

	s := newStore(t, WithCapacity(1))
	require.NoError(t, s.AddPacket(context.Background(), packet(devA, 1)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.AddPacket(ctx, packet(devB, 1)))

	pkt, err := s.PopOne(devB)
	require.NoError(t, err)
	assert.Equal(t, devB, pkt.DeviceID)
}

func TestDrainAll(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	for i := range uint16(3) {
		require.NoError(t, s.AddPacket(ctx, packet(devA, i)))
	}

	assert.Equal(t, []uint16{0, 1, 2}, ids(s.DrainAll(devA)))
	assert.Empty(t, s.DrainAll(devA))

	depth, err := s.QueueDepth(devA)
	require.NoError(t, err)
	assert.Zero(t, depth)
	assert.Equal(t, []riotee.DeviceID{devA}, s.ListDevices())
}

func TestDrainEvery(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddPacket(ctx, packet(devB, 10)))
	require.NoError(t, s.AddPacket(ctx, packet(devA, 1)))
	require.NoError(t, s.AddPacket(ctx, packet(devB, 11)))
	require.NoError(t, s.AddPacket(ctx, packet(devA, 2)))

	all := s.DrainEvery()
	require.Len(t, all, 2)
	assert.Equal(t, []uint16{1, 2}, ids(all[devA]))
	assert.Equal(t, []uint16{10, 11}, ids(all[devB]))

	for _, dev := range s.ListDevices() {
		depth, err := s.QueueDepth(dev)
		require.NoError(t, err)
		assert.Zero(t, depth)
	}
}

func TestListDevicesSorted(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddPacket(ctx, packet(devB, 1)))
	require.NoError(t, s.AddPacket(ctx, packet(devA, 1)))

	assert.Equal(t, []riotee.DeviceID{devA, devB}, s.ListDevices())
	assert.Equal(t, map[string]int{devA.String(): 1, devB.String(): 1}, s.Depths())
}

func TestConcurrentProducerAndConsumers(t *testing.T) {
	t.Parallel()

	const total = 5000
	s := newStore(t, WithCapacity(16))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	producerErr := make(chan error, 1)
	go func() {
		for i := range total {
			if err := s.AddPacket(ctx, packet(devA, uint16(i))); err != nil {
				producerErr <- err
				return
			}
		}
		producerErr <- nil
	}()

	var (
		mu  sync.Mutex
		got []uint16
		wg  sync.WaitGroup
	)
	done := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				mu.Lock()
				batch := s.DrainAll(devA)
				got = append(got, ids(batch)...)
				mu.Unlock()
			}
		}()
	}

	require.NoError(t, <-producerErr)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == total
	}, 5*time.Second, time.Millisecond)
	close(done)
	wg.Wait()

	for i, id := range got {
		require.Equal(t, uint16(i), id)
	}
}
