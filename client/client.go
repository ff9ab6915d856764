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

// Package client talks to a running gateway server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ZaparooProject/go-riotee"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Method  string
	Path    string
	Message string
	Code    int
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s: %d", e.Method, e.Path, e.Code)
}

// Unwrap maps 404 to ErrNotFound and 400 to riotee.ErrValidation.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest:
		return riotee.ErrValidation
	default:
		return nil
	}
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// Client is a gateway API client. It is safe for concurrent use.
type Client struct {
	http    *http.Client
	baseURL string
}

// New creates a client for the server at host:port.
func New(host string, port int, opts ...Option) *Client {
	return NewWithURL(fmt.Sprintf("http://%s:%d", host, port), opts...)
}

// NewWithURL creates a client for the server at baseURL.
func NewWithURL(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Devices lists every device the gateway has received packets from.
func (c *Client) Devices(ctx context.Context) ([]riotee.DeviceID, error) {
	var out []riotee.DeviceID
	if err := c.do(ctx, http.MethodGet, "/devices/list", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// QueueSize returns the number of packets waiting for dev.
func (c *Client) QueueSize(ctx context.Context, dev riotee.DeviceID) (int, error) {
	var n int
	if err := c.do(ctx, http.MethodGet, devicePath(dev, "size"), nil, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Pop removes and returns the oldest packet of dev.
func (c *Client) Pop(ctx context.Context, dev riotee.DeviceID) (riotee.Packet, error) {
	var pkt riotee.Packet
	if err := c.do(ctx, http.MethodGet, devicePath(dev, "pop"), nil, &pkt); err != nil {
		return riotee.Packet{}, err
	}
	return pkt, nil
}

// Packets drains the packets of dev, or of every device when dev is nil.
func (c *Client) Packets(ctx context.Context, dev *riotee.DeviceID) ([]riotee.Packet, error) {
	path := "/all"
	if dev != nil {
		path = devicePath(*dev, "all")
	}
	var out []riotee.Packet
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Send transmits payload to dev. id selects the packet id; nil lets the
// gateway choose. The id used is returned.
func (c *Client) Send(ctx context.Context, dev riotee.DeviceID, payload []byte, id *int) (uint16, error) {
	if _, err := riotee.EncodeSend(payload, id); err != nil {
		return 0, err
	}
	req := riotee.SendRequest{
		PacketID: id,
		Data:     string(riotee.EncodeField(payload)),
	}
	var resp riotee.SendResponse
	if err := c.do(ctx, http.MethodPost, devicePath(dev, "send"), req, &resp); err != nil {
		return 0, err
	}
	return resp.PacketID, nil
}

// SendASCII sends text as the payload.
func (c *Client) SendASCII(ctx context.Context, dev riotee.DeviceID, text string) (uint16, error) {
	return c.Send(ctx, dev, []byte(text), nil)
}

func devicePath(dev riotee.DeviceID, action string) string {
	return "/devices/" + url.PathEscape(dev.String()) + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr)
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Message: apiErr.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
