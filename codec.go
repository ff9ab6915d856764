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
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"math/rand/v2"
	"time"

	"github.com/ZaparooProject/go-riotee/internal/frame"
)

// fieldEncoding is the text encoding of every frame field. The dongle
// firmware uses the URL-safe alphabet with '=' padding; standard base64 is
// not interchangeable. Strict decoding rejects nonzero padding bits so each
// value has a single text form.
var fieldEncoding = base64.URLEncoding.Strict()

// Field names used in validation errors
const (
	fieldDeviceID = "dev_id"
	fieldPacketID = "pkt_id"
	fieldAckID    = "ack_id"
	fieldPayload  = "data"
)

// EncodeField returns the wire text of a binary field value.
func EncodeField(raw []byte) []byte {
	out := make([]byte, fieldEncoding.EncodedLen(len(raw)))
	fieldEncoding.Encode(out, raw)
	return out
}

// DecodeField decodes the wire text of a field holding at most maxRaw bytes.
// Text longer than the encoding of maxRaw bytes is rejected before decoding.
func DecodeField(name string, text []byte, maxRaw int) ([]byte, error) {
	if limit := fieldEncoding.EncodedLen(maxRaw); len(text) > limit {
		return nil, newValidationError(name, ErrPayloadTooLarge,
			"encoded length %d exceeds %d", len(text), limit)
	}
	// The decoder skips CR and LF even in strict mode.
	if i := bytes.IndexAny(text, "\r\n"); i >= 0 {
		return nil, newValidationError(name, ErrInvalidEncoding, "newline at offset %d", i)
	}
	out := make([]byte, fieldEncoding.DecodedLen(len(text)))
	n, err := fieldEncoding.Decode(out, text)
	if err != nil {
		return nil, newValidationError(name, ErrInvalidEncoding, "%v", err)
	}
	if n > maxRaw {
		return nil, newValidationError(name, ErrPayloadTooLarge, "%d bytes exceeds %d", n, maxRaw)
	}
	return out[:n], nil
}

// EncodeSend validates an outbound payload and optional packet id.
func EncodeSend(payload []byte, packetID *int) (Packet, error) {
	if err := validatePayload(payload); err != nil {
		return Packet{}, err
	}
	pkt := Packet{Payload: payload}
	if packetID != nil {
		if *packetID < 0 || *packetID > MaxPacketID {
			return Packet{}, newValidationError(fieldPacketID, ErrOutOfRange,
				"%d outside [0,%d]", *packetID, MaxPacketID)
		}
		id := uint16(*packetID)
		pkt.ID = &id
	}
	return pkt, nil
}

// WithAssignedID returns a copy of the packet carrying a random packet id
// if it has none.
func (p Packet) WithAssignedID() Packet {
	if p.ID == nil {
		id := uint16(rand.UintN(MaxPacketID + 1)) //nolint:gosec // packet ids are not secrets
		p.ID = &id
	}
	return p
}

// BuildOutboundFrame serializes a packet addressed to dev. A random packet id
// is used when the packet has none.
func BuildOutboundFrame(pkt Packet, dev DeviceID) ([]byte, error) {
	if err := validatePayload(pkt.Payload); err != nil {
		return nil, err
	}
	pkt = pkt.WithAssignedID()

	var id, ack [idSize]byte
	binary.LittleEndian.PutUint16(id[:], *pkt.ID)
	binary.LittleEndian.PutUint16(ack[:], pkt.AckID)

	out := make([]byte, 0, frame.MaxBodyLen)
	out = append(out, frame.StartMarker)
	out = frame.AppendField(out, EncodeField(dev[:]))
	out = frame.AppendField(out, EncodeField(id[:]))
	out = frame.AppendField(out, EncodeField(ack[:]))
	out = frame.AppendField(out, EncodeField(pkt.Payload))
	out = append(out, frame.EndMarker)
	return out, nil
}

// ParseInboundFrame decodes a frame body (the bytes between the markers).
// A missing sentinel yields a ProtocolError; a field violating its
// invariant yields a ValidationError.
func ParseInboundFrame(body []byte, ts time.Time) (Packet, error) {
	fields, err := frame.SplitFields(body, frame.FieldCount)
	if err != nil {
		return Packet{}, newProtocolError("parse frame", err)
	}

	dev, err := decodeExact(fieldDeviceID, fields[0], DeviceIDSize)
	if err != nil {
		return Packet{}, err
	}
	id, err := decodeExact(fieldPacketID, fields[1], idSize)
	if err != nil {
		return Packet{}, err
	}
	ack, err := decodeExact(fieldAckID, fields[2], idSize)
	if err != nil {
		return Packet{}, err
	}
	payload, err := DecodeField(fieldPayload, fields[3], MaxPayloadSize)
	if err != nil {
		return Packet{}, err
	}

	pkt := Packet{
		AckID:     binary.LittleEndian.Uint16(ack),
		Payload:   payload,
		Timestamp: ts,
	}
	copy(pkt.DeviceID[:], dev)
	pktID := binary.LittleEndian.Uint16(id)
	pkt.ID = &pktID
	return pkt, nil
}

func decodeExact(name string, text []byte, size int) ([]byte, error) {
	raw, err := DecodeField(name, text, size)
	if err != nil {
		return nil, err
	}
	if len(raw) != size {
		return nil, newValidationError(name, ErrInvalidLength,
			"decoded to %d bytes, want %d", len(raw), size)
	}
	return raw, nil
}

func validatePayload(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return newValidationError(fieldPayload, ErrPayloadTooLarge,
			"%d bytes exceeds %d", len(payload), MaxPayloadSize)
	}
	return nil
}
