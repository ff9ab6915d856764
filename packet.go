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

// Package riotee implements the host side of a gateway between a wireless
// sensor network and client applications. A dongle on a serial link
// exchanges framed base64url text packets with remote devices; this package
// encodes and decodes those frames and drives the serial link.
package riotee

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

// Wire limits
const (
	// DeviceIDSize is the decoded size of a device identifier.
	DeviceIDSize = 4
	// MaxPayloadSize is the largest payload a radio frame can carry.
	MaxPayloadSize = 247
	// MaxPacketID is the largest packet or ack identifier.
	MaxPacketID = 0xFFFF

	idSize = 2
)

// DeviceID identifies a remote sensor device. The canonical form is the raw
// 4 bytes; String returns the wire text form.
type DeviceID [DeviceIDSize]byte

// ParseDeviceID decodes the base64url text form of a device id. This is the
// only text-to-binary conversion for device ids.
func ParseDeviceID(text string) (DeviceID, error) {
	var id DeviceID
	raw, err := DecodeField("dev_id", []byte(text), DeviceIDSize)
	if err != nil {
		return id, err
	}
	if len(raw) != DeviceIDSize {
		return id, newValidationError("dev_id", ErrInvalidLength,
			"decoded to %d bytes, want %d", len(raw), DeviceIDSize)
	}
	copy(id[:], raw)
	return id, nil
}

// DeviceIDFromUint32 converts a numeric device id using the dongle's
// little-endian byte order.
func DeviceIDFromUint32(v uint32) DeviceID {
	var id DeviceID
	binary.LittleEndian.PutUint32(id[:], v)
	return id
}

// Uint32 returns the numeric form of the id.
func (d DeviceID) Uint32() uint32 {
	return binary.LittleEndian.Uint32(d[:])
}

// String returns the base64url wire form, e.g. "AQAAAA==".
func (d DeviceID) String() string {
	return string(EncodeField(d[:]))
}

// MarshalText implements encoding.TextMarshaler.
func (d DeviceID) MarshalText() ([]byte, error) {
	return EncodeField(d[:]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DeviceID) UnmarshalText(text []byte) error {
	id, err := ParseDeviceID(string(text))
	if err != nil {
		return err
	}
	*d = id
	return nil
}

// Packet is a decoded frame. ID is nil only on the send path before an id
// has been assigned; Timestamp is zero on the send path.
type Packet struct {
	Timestamp time.Time
	ID        *uint16
	Payload   []byte
	AckID     uint16
	DeviceID  DeviceID
}

// PacketID returns the packet id, or 0 if none is assigned yet.
func (p Packet) PacketID() uint16 {
	if p.ID == nil {
		return 0
	}
	return *p.ID
}

// String formats the packet for logs.
func (p Packet) String() string {
	return fmt.Sprintf("packet %d from %s (ack %d, %d bytes)",
		p.PacketID(), p.DeviceID, p.AckID, len(p.Payload))
}

// packetJSON is the HTTP representation shared by the api and client packages.
type packetJSON struct {
	Timestamp *time.Time `json:"timestamp,omitempty"`
	PacketID  *uint16    `json:"pkt_id,omitempty"`
	DeviceID  DeviceID   `json:"dev_id"`
	Data      string     `json:"data"`
	AckID     uint16     `json:"ack_id"`
}

// MarshalJSON encodes the payload as base64url text.
func (p Packet) MarshalJSON() ([]byte, error) {
	out := packetJSON{
		DeviceID: p.DeviceID,
		PacketID: p.ID,
		AckID:    p.AckID,
		Data:     string(EncodeField(p.Payload)),
	}
	if !p.Timestamp.IsZero() {
		ts := p.Timestamp
		out.Timestamp = &ts
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal packet: %w", err)
	}
	return data, nil
}

// UnmarshalJSON decodes and validates a packet produced by MarshalJSON.
func (p *Packet) UnmarshalJSON(data []byte) error {
	var in packetJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("unmarshal packet: %w", err)
	}
	payload, err := DecodeField("data", []byte(in.Data), MaxPayloadSize)
	if err != nil {
		return err
	}
	*p = Packet{
		DeviceID: in.DeviceID,
		ID:       in.PacketID,
		AckID:    in.AckID,
		Payload:  payload,
	}
	if in.Timestamp != nil {
		p.Timestamp = *in.Timestamp
	}
	return nil
}

// SendRequest is the body of a send-to-device request. Data is base64url
// text; PacketID is optional and assigned randomly when absent.
type SendRequest struct {
	PacketID *int   `json:"pkt_id,omitempty"`
	Data     string `json:"data"`
}

// Packet validates the request and converts it into an outbound packet.
func (r SendRequest) Packet() (Packet, error) {
	payload, err := DecodeField("data", []byte(r.Data), MaxPayloadSize)
	if err != nil {
		return Packet{}, err
	}
	return EncodeSend(payload, r.PacketID)
}

// SendResponse reports the packet id used for a send.
type SendResponse struct {
	PacketID uint16 `json:"pkt_id"`
}
