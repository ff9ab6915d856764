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
	"io"
	"sync"
	"time"

	"github.com/ZaparooProject/go-riotee/internal/frame"
	"github.com/ZaparooProject/go-riotee/internal/metrics"
	"github.com/ZaparooProject/go-riotee/internal/syncutil"
	"github.com/rs/zerolog"
)

// Transport is the serial link to the dongle. The UART transport returns
// (0, nil) from Read when its read timeout expires without data.
type Transport interface {
	io.ReadWriteCloser

	// Name returns the port path
	Name() string
}

// MalformedFramePolicy selects what Run does with a frame it cannot parse.
type MalformedFramePolicy int

const (
	// SkipMalformed logs and counts the frame, then keeps ingesting.
	SkipMalformed MalformedFramePolicy = iota
	// StopOnMalformed ends Run with the parse error.
	StopOnMalformed
)

func (p MalformedFramePolicy) String() string {
	switch p {
	case SkipMalformed:
		return "skip"
	case StopOnMalformed:
		return "stop"
	default:
		return "unknown"
	}
}

// ParseMalformedFramePolicy parses "skip" or "stop".
func ParseMalformedFramePolicy(s string) (MalformedFramePolicy, error) {
	switch s {
	case "skip", "":
		return SkipMalformed, nil
	case "stop":
		return StopOnMalformed, nil
	default:
		return SkipMalformed, fmt.Errorf("unknown malformed frame policy %q", s)
	}
}

// PacketSink receives every packet parsed by Run. AddPacket may block to
// apply backpressure; it must return when ctx ends.
type PacketSink interface {
	AddPacket(ctx context.Context, pkt Packet) error
}

// Option configures a Transceiver
type Option func(*Transceiver) error

// WithMalformedFramePolicy sets the policy for frames that fail to parse.
func WithMalformedFramePolicy(policy MalformedFramePolicy) Option {
	return func(t *Transceiver) error {
		if policy != SkipMalformed && policy != StopOnMalformed {
			return fmt.Errorf("invalid malformed frame policy %d", policy)
		}
		t.policy = policy
		return nil
	}
}

// WithLogger sets the logger used by the transceiver. The package logger is
// used by default.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transceiver) error {
		t.logger = logger
		return nil
	}
}

// WithClock replaces the clock used to timestamp received packets.
func WithClock(now func() time.Time) Option {
	return func(t *Transceiver) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		t.now = now
		return nil
	}
}

// WithScannerOptions passes options to the frame scanner reading the port.
func WithScannerOptions(opts ...frame.ScannerOption) Option {
	return func(t *Transceiver) error {
		t.scannerOpts = append(t.scannerOpts, opts...)
		return nil
	}
}

// Transceiver owns the serial link to the dongle. Run is the only reader of
// the port and must be called from a single goroutine; Send may be called
// concurrently from any number of goroutines.
type Transceiver struct {
	transport   Transport
	scanner     *frame.Scanner
	now         func() time.Time
	logger      zerolog.Logger
	scannerOpts []frame.ScannerOption
	closeErr    error
	writeMu     syncutil.Mutex
	closeOnce   sync.Once
	policy      MalformedFramePolicy
}

// NewTransceiver wraps an opened transport.
func NewTransceiver(transport Transport, opts ...Option) (*Transceiver, error) {
	if transport == nil {
		return nil, errors.New("transport must not be nil")
	}
	t := &Transceiver{
		transport: transport,
		now:       time.Now,
		logger:    Logger(),
		policy:    SkipMalformed,
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	t.logger = t.logger.With().Str("port", transport.Name()).Logger()
	t.scanner = frame.NewScanner(transport, t.scannerOpts...)
	return t, nil
}

// Transport returns the underlying transport
func (t *Transceiver) Transport() Transport {
	return t.transport
}

// Send validates pkt, frames it for dev and writes it to the dongle. It
// returns the packet id used, which is random when pkt carries none. There is
// no acknowledgement; a nil error means the frame was written.
func (t *Transceiver) Send(ctx context.Context, pkt Packet, dev DeviceID) (uint16, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("send cancelled: %w", err)
	}

	pkt = pkt.WithAssignedID()
	data, err := BuildOutboundFrame(pkt, dev)
	if err != nil {
		return 0, err
	}

	t.writeMu.Lock()
	n, err := t.transport.Write(data)
	t.writeMu.Unlock()

	if err != nil {
		return 0, t.writeError(err)
	}
	if n != len(data) {
		return 0, NewTransportWriteError("write", t.transport.Name())
	}

	metrics.RecordSent()
	t.logger.Debug().
		Str("dev_id", dev.String()).
		Uint16("pkt_id", *pkt.ID).
		Int("len", len(pkt.Payload)).
		Msg("packet sent")
	return *pkt.ID, nil
}

// Run reads frames from the dongle and hands each parsed packet to sink. It
// returns ctx.Err() when ctx ends, the sink's error if AddPacket fails, a
// TransportError when the port fails, or under StopOnMalformed the first
// parse error.
func (t *Transceiver) Run(ctx context.Context, sink PacketSink) error {
	t.logger.Info().Str("policy", t.policy.String()).Msg("ingestion started")
	defer t.logger.Info().Msg("ingestion stopped")

	for {
		body, err := t.scanner.Next(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr //nolint:wrapcheck // callers compare against context errors
			}
			if errors.Is(err, frame.ErrFrameTooLong) {
				if err := t.malformed(newProtocolError("scan frame", err), nil); err != nil {
					return err
				}
				continue
			}
			return t.readError(err)
		}

		pkt, err := ParseInboundFrame(body, t.now())
		if err != nil {
			if err := t.malformed(err, body); err != nil {
				return err
			}
			continue
		}
		metrics.RecordFrame()

		t.logger.Debug().
			Str("dev_id", pkt.DeviceID.String()).
			Uint16("pkt_id", pkt.PacketID()).
			Uint16("ack_id", pkt.AckID).
			Int("len", len(pkt.Payload)).
			Msg("packet received")

		if err := sink.AddPacket(ctx, pkt); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr //nolint:wrapcheck // callers compare against context errors
			}
			return fmt.Errorf("store packet: %w", err)
		}
	}
}

// Close releases the serial port. Only the first call closes it; later calls
// return the same result.
func (t *Transceiver) Close() error {
	t.closeOnce.Do(func() {
		if err := t.transport.Close(); err != nil {
			t.closeErr = fmt.Errorf("failed to close transport: %w", err)
		}
	})
	return t.closeErr
}

func (t *Transceiver) malformed(err error, body []byte) error {
	metrics.RecordMalformed(malformedReason(err))
	event := t.logger.Warn().Err(err)
	if body != nil {
		event = event.Int("len", len(body))
	}
	if t.policy == StopOnMalformed {
		event.Msg("malformed frame, stopping ingestion")
		return err
	}
	event.Msg("malformed frame dropped")
	return nil
}

func (t *Transceiver) readError(err error) error {
	errType := ErrorTypeTransient
	if IsFatal(err) {
		errType = ErrorTypePermanent
	}
	return NewTransportError("read", t.transport.Name(), errors.Join(ErrTransportRead, err), errType)
}

// writeError classifies a failed write. A TransportError from the port
// already carries its classification and is returned as is.
func (t *Transceiver) writeError(err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	errType := ErrorTypeTransient
	if IsFatal(err) {
		errType = ErrorTypePermanent
	}
	return NewTransportError("write", t.transport.Name(), err, errType)
}

func malformedReason(err error) string {
	switch {
	case errors.Is(err, ErrFrameTooLong):
		return metrics.ReasonTooLong
	case errors.Is(err, ErrMissingSentinel):
		return metrics.ReasonMissingSentinel
	default:
		return metrics.ReasonInvalidField
	}
}
