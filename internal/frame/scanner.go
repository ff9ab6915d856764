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

package frame

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"
)

// State is the position of the scanner's two-state machine.
type State int

const (
	// SeekingStart scans for the opening marker, discarding anything before it.
	SeekingStart State = iota
	// SeekingEnd scans for the closing marker of an opened frame.
	SeekingEnd
)

func (s State) String() string {
	switch s {
	case SeekingStart:
		return "seeking-start"
	case SeekingEnd:
		return "seeking-end"
	default:
		return "unknown"
	}
}

// Default read parameters used by Next
const (
	DefaultReadSize    = 256
	DefaultIdleReads   = 4
	DefaultIdleBackoff = 5 * time.Millisecond
)

// Scanner extracts frame bodies from a byte stream delivered in arbitrary
// chunks. It remembers how far it has already searched so bytes are never
// examined twice while a frame is incomplete.
//
// A Scanner is not safe for concurrent use; it belongs to the ingestion path.
type Scanner struct {
	r           io.Reader
	readErr     error
	buf         []byte
	readBuf     []byte
	scanned     int
	state       State
	idleReads   int
	idleBackoff time.Duration
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithReadSize sets the size of each read from the underlying reader.
func WithReadSize(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.readBuf = make([]byte, n)
		}
	}
}

// WithIdleBackoff sets how long Next waits after idleReads consecutive empty
// reads. Serial ports with a read timeout already block inside Read, so this
// only matters for readers that return (0, nil) immediately.
func WithIdleBackoff(idleReads int, backoff time.Duration) ScannerOption {
	return func(s *Scanner) {
		s.idleReads = idleReads
		s.idleBackoff = backoff
	}
}

// NewScanner creates a scanner reading from r. r may be nil when the caller
// only feeds bytes through Push.
func NewScanner(r io.Reader, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		r:           r,
		buf:         make([]byte, 0, MaxBodyLen),
		readBuf:     make([]byte, DefaultReadSize),
		idleReads:   DefaultIdleReads,
		idleBackoff: DefaultIdleBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current scanner state.
func (s *Scanner) State() State {
	return s.state
}

// Buffered returns the number of bytes held but not yet consumed.
func (s *Scanner) Buffered() int {
	return len(s.buf)
}

// Push appends a chunk of stream bytes.
func (s *Scanner) Push(chunk []byte) {
	s.buf = append(s.buf, chunk...)
}

// Scan extracts the next complete frame body from the buffered bytes.
// complete is false when more bytes are needed. An opened frame that grows
// past MaxBodyLen is dropped and reported with ErrFrameTooLong; the scanner
// is then back in SeekingStart and may be used again.
func (s *Scanner) Scan() (body []byte, complete bool, err error) {
	for {
		switch s.state {
		case SeekingStart:
			idx := bytes.IndexByte(s.buf, StartMarker)
			if idx < 0 {
				s.discard(len(s.buf))
				return nil, false, nil
			}
			s.discard(idx + 1)
			s.state = SeekingEnd
		case SeekingEnd:
			idx := bytes.IndexByte(s.buf[s.scanned:], EndMarker)
			if idx < 0 {
				s.scanned = len(s.buf)
				if s.scanned > MaxBodyLen {
					s.discard(len(s.buf))
					s.state = SeekingStart
					return nil, false, ErrFrameTooLong
				}
				return nil, false, nil
			}
			end := s.scanned + idx
			if end > MaxBodyLen {
				s.discard(end + 1)
				s.state = SeekingStart
				return nil, false, ErrFrameTooLong
			}
			body = make([]byte, end)
			copy(body, s.buf[:end])
			s.discard(end + 1)
			s.state = SeekingStart
			return body, true, nil
		default:
			return nil, false, fmt.Errorf("invalid scanner state %d", s.state)
		}
	}
}

// Next blocks until a complete frame body is available, the reader fails or
// ctx is done. Read errors are reported only after every frame already
// buffered has been returned.
func (s *Scanner) Next(ctx context.Context) ([]byte, error) {
	if s.r == nil {
		return nil, fmt.Errorf("scanner has no reader: %w", io.ErrClosedPipe)
	}

	idle := 0
	for {
		body, complete, err := s.Scan()
		if err != nil {
			return nil, err
		}
		if complete {
			return body, nil
		}
		if s.readErr != nil {
			return nil, s.readErr
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := s.r.Read(s.readBuf)
		if n > 0 {
			s.Push(s.readBuf[:n])
			idle = 0
		}
		if err != nil {
			s.readErr = err
			continue
		}
		if n == 0 {
			idle++
			if idle >= s.idleReads {
				idle = 0
				if err := sleepCtx(ctx, s.idleBackoff); err != nil {
					return nil, err
				}
			}
		}
	}
}

// discard drops the first n buffered bytes, keeping a single backing array.
func (s *Scanner) discard(n int) {
	s.buf = append(s.buf[:0], s.buf[n:]...)
	s.scanned = 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
