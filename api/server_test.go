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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ZaparooProject/go-riotee"
	"github.com/ZaparooProject/go-riotee/store"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type sentPacket struct {
	pkt riotee.Packet
	dev riotee.DeviceID
}

type fakeSender struct {
	err  error
	sent []sentPacket
	mu   sync.Mutex
}

func (f *fakeSender) Send(_ context.Context, pkt riotee.Packet, dev riotee.DeviceID) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	pkt = pkt.WithAssignedID()
	f.sent = append(f.sent, sentPacket{pkt: pkt, dev: dev})
	return *pkt.ID, nil
}

var (
	devA = riotee.DeviceIDFromUint32(1)
	devB = riotee.DeviceIDFromUint32(2)
)

func newTestServer(t *testing.T, sender Sender) (*Server, *store.Store) {
	t.Helper()
	st, err := store.New()
	require.NoError(t, err)
	return New(st, sender, WithLogger(zerolog.Nop())), st
}

func addPacket(t *testing.T, st *store.Store, dev riotee.DeviceID, id uint16, payload string) {
	t.Helper()
	pkt := riotee.Packet{
		DeviceID:  dev,
		ID:        &id,
		Payload:   []byte(payload),
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, st.AddPacket(context.Background(), pkt))
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodePackets(t *testing.T, rec *httptest.ResponseRecorder) []riotee.Packet {
	t.Helper()
	var pkts []riotee.Packet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pkts))
	return pkts
}

func TestRoot(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `"Welcome to the Gateway!"`, rec.Body.String())
}

func TestListDevices(t *testing.T) {
	t.Parallel()

	s, st := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/devices/list", "")
	assert.JSONEq(t, `[]`, rec.Body.String())

	addPacket(t, st, devB, 1, "b")
	addPacket(t, st, devA, 1, "a")
	rec = do(t, s, http.MethodGet, "/devices/list", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["AQAAAA==","AgAAAA=="]`, rec.Body.String())
}

func TestQueueSize(t *testing.T) {
	t.Parallel()

	s, st := newTestServer(t, nil)
	addPacket(t, st, devA, 1, "x")
	addPacket(t, st, devA, 2, "y")

	rec := do(t, s, http.MethodGet, "/devices/AQAAAA==/size", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `2`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/devices/AgAAAA==/size", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPop(t *testing.T) {
	t.Parallel()

	s, st := newTestServer(t, nil)
	addPacket(t, st, devA, 42, "hi")

	rec := do(t, s, http.MethodGet, "/devices/AQAAAA==/pop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"dev_id": "AQAAAA==",
		"pkt_id": 42,
		"ack_id": 0,
		"data": "aGk=",
		"timestamp": "2026-01-02T03:04:05Z"
	}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/devices/AQAAAA==/pop", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestInvalidDeviceID(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	for _, path := range []string{
		"/devices/not-base64!/pop",
		"/devices/AQAA/size",
		"/devices/AQAAAAAA/all",
	} {
		rec := do(t, s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestDevicePackets(t *testing.T) {
	t.Parallel()

	s, st := newTestServer(t, nil)
	addPacket(t, st, devA, 1, "one")
	addPacket(t, st, devA, 2, "two")

	rec := do(t, s, http.MethodGet, "/devices/AQAAAA==/all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	pkts := decodePackets(t, rec)
	require.Len(t, pkts, 2)
	assert.Equal(t, []byte("one"), pkts[0].Payload)
	assert.Equal(t, []byte("two"), pkts[1].Payload)

	rec = do(t, s, http.MethodGet, "/devices/AQAAAA==/all", "")
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/devices/AwAAAA==/all", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestAllPackets(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"/devices/all", "/all"} {
		t.Run(path, func(t *testing.T) {
			t.Parallel()

			s, st := newTestServer(t, nil)
			addPacket(t, st, devB, 10, "b0")
			addPacket(t, st, devA, 1, "a0")
			addPacket(t, st, devB, 11, "b1")

			rec := do(t, s, http.MethodGet, path, "")
			require.Equal(t, http.StatusOK, rec.Code)
			pkts := decodePackets(t, rec)
			require.Len(t, pkts, 3)
			assert.Equal(t, devA, pkts[0].DeviceID)
			assert.Equal(t, []uint16{10, 11}, []uint16{pkts[1].PacketID(), pkts[2].PacketID()})

			for _, dev := range st.ListDevices() {
				depth, err := st.QueueDepth(dev)
				require.NoError(t, err)
				assert.Zero(t, depth)
			}
		})
	}
}

func TestSend(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	s, _ := newTestServer(t, sender)

	rec := do(t, s, http.MethodPost, "/devices/AQAAAA==/send", `{"data":"aGk=","pkt_id":42}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pkt_id":42}`, rec.Body.String())

	require.Len(t, sender.sent, 1)
	assert.Equal(t, devA, sender.sent[0].dev)
	assert.Equal(t, []byte("hi"), sender.sent[0].pkt.Payload)
}

func TestSendAssignsPacketID(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	s, _ := newTestServer(t, sender)

	rec := do(t, s, http.MethodPost, "/devices/AQAAAA==/send", `{"data":""}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp riotee.SendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, sender.sent[0].pkt.PacketID(), resp.PacketID)
}

func TestSendValidation(t *testing.T) {
	t.Parallel()

	tooLong := strings.Repeat("A", 400)
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{`},
		{name: "bad base64", body: `{"data":"***"}`},
		{name: "payload too large", body: `{"data":"` + tooLong + `"}`},
		{name: "negative id", body: `{"data":"aGk=","pkt_id":-1}`},
		{name: "id too large", body: `{"data":"aGk=","pkt_id":65536}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sender := &fakeSender{}
			s, _ := newTestServer(t, sender)

			rec := do(t, s, http.MethodPost, "/devices/AQAAAA==/send", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, sender.sent)
		})
	}
}

func TestSendTransportFailure(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{err: riotee.NewTransportError("write", "/dev/ttyACM0",
		errors.New("input/output error"), riotee.ErrorTypePermanent)}
	s, _ := newTestServer(t, sender)

	rec := do(t, s, http.MethodPost, "/devices/AQAAAA==/send", `{"data":"aGk="}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s, _ = newTestServer(t, nil)
	rec = do(t, s, http.MethodPost, "/devices/AQAAAA==/send", `{"data":"aGk="}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	do(t, s, http.MethodGet, "/devices/list", "")

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "riotee_http_requests_total")
}

func TestCORS(t *testing.T) {
	t.Parallel()

	st, err := store.New()
	require.NoError(t, err)
	s := New(st, nil, WithLogger(zerolog.Nop()), WithCORSOrigins("http://localhost:3000"))

	req := httptest.NewRequest(http.MethodGet, "/devices/list", http.NoBody)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/") //nolint:noctx // readiness check
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
