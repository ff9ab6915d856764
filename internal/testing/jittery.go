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

package testing

import (
	"io"
	"math/rand/v2"
	"time"
)

// JitterConfig configures the behavior of JitteryConnection.
type JitterConfig struct {
	MaxLatencyMs      int
	FragmentMinBytes  int
	Seed              uint64
	FragmentReads     bool
	USBBoundaryStress bool
}

// DefaultJitterConfig returns a configuration that fragments every read
// without adding latency, which is what frame scanner tests want.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		FragmentReads:    true,
		FragmentMinBytes: 1,
	}
}

// JitteryConnection wraps an io.ReadWriter to simulate a USB CDC link that
// delivers the dongle's output in unpredictable fragments. Data read from the
// backend is buffered, so fragmentation never loses bytes.
type JitteryConnection struct {
	backend   io.ReadWriter
	rng       *rand.Rand
	readBuf   []byte
	config    JitterConfig
	bytesRead int
}

// NewJitteryConnection wraps backend with jitter simulation.
func NewJitteryConnection(backend io.ReadWriter, config JitterConfig) *JitteryConnection {
	var rng *rand.Rand
	if config.Seed != 0 {
		rng = rand.New(rand.NewPCG(config.Seed, config.Seed^0xDEADBEEF)) //nolint:gosec // Test code, not crypto
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // Test code, not crypto
	}

	if config.FragmentMinBytes < 1 {
		config.FragmentMinBytes = 1
	}

	return &JitteryConnection{
		backend: backend,
		config:  config,
		rng:     rng,
		readBuf: make([]byte, 0, 1024),
	}
}

// Write passes writes through to the backend without modification.
func (j *JitteryConnection) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // Pass-through wrapper
}

// Read returns a random-length prefix of the buffered backend data.
func (j *JitteryConnection) Read(buf []byte) (int, error) {
	if j.config.MaxLatencyMs > 0 {
		if delay := time.Duration(j.rng.IntN(j.config.MaxLatencyMs+1)) * time.Millisecond; delay > 0 {
			time.Sleep(delay)
		}
	}

	if len(j.readBuf) == 0 {
		tmp := make([]byte, 1024)
		n, err := j.backend.Read(tmp)
		if n > 0 {
			j.readBuf = append(j.readBuf, tmp[:n]...)
		}
		if len(j.readBuf) == 0 {
			return 0, err //nolint:wrapcheck // Pass-through wrapper
		}
	}

	toReturn := min(len(j.readBuf), len(buf))

	// Fragment at 64-byte USB full-speed packet boundaries
	if j.config.USBBoundaryStress && toReturn > 0 {
		untilBoundary := 64 - j.bytesRead%64
		if untilBoundary < toReturn {
			toReturn = untilBoundary
		}
	}

	if j.config.FragmentReads && toReturn > j.config.FragmentMinBytes {
		toReturn = j.config.FragmentMinBytes + j.rng.IntN(toReturn-j.config.FragmentMinBytes+1)
	}

	copy(buf, j.readBuf[:toReturn])
	j.readBuf = j.readBuf[toReturn:]
	j.bytesRead += toReturn
	return toReturn, nil
}

// ChunkedReader replays a fixed partition of a byte stream, one chunk per
// Read call, then returns io.EOF. Empty chunks produce (0, nil) reads, like a
// serial port whose read timeout expired.
type ChunkedReader struct {
	chunks [][]byte
	pos    int
}

// NewChunkedReader creates a reader over the given chunks.
func NewChunkedReader(chunks ...[]byte) *ChunkedReader {
	return &ChunkedReader{chunks: chunks}
}

func (c *ChunkedReader) Read(buf []byte) (int, error) {
	if c.pos >= len(c.chunks) {
		return 0, io.EOF
	}
	chunk := c.chunks[c.pos]
	n := copy(buf, chunk)
	if n < len(chunk) {
		c.chunks[c.pos] = chunk[n:]
		return n, nil
	}
	c.pos++
	return n, nil
}

// RandomPartition splits data into consecutive chunks of random length in
// [0, maxChunk]. The concatenation of the result always equals data.
func RandomPartition(data []byte, maxChunk int, seed uint64) [][]byte {
	rng := rand.New(rand.NewPCG(seed, seed^0xC0FFEE)) //nolint:gosec // Test code, not crypto
	var chunks [][]byte
	for len(data) > 0 {
		n := min(rng.IntN(maxChunk+1), len(data))
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}
