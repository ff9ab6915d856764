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
	"bytes"
	"errors"
	"net/http"
	"sort"

	"github.com/ZaparooProject/go-riotee"
	"github.com/ZaparooProject/go-riotee/store"
	"github.com/gin-gonic/gin"
)

const welcome = "Welcome to the Gateway!"

func (*Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, welcome)
}

func (s *Server) handleListDevices(c *gin.Context) {
	devices := s.store.ListDevices()
	out := make([]string, len(devices))
	for i, dev := range devices {
		out[i] = dev.String()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleAllPackets(c *gin.Context) {
	all := s.store.DrainEvery()
	devices := make([]riotee.DeviceID, 0, len(all))
	for dev := range all {
		devices = append(devices, dev)
	}
	sort.Slice(devices, func(i, j int) bool {
		return bytes.Compare(devices[i][:], devices[j][:]) < 0
	})

	out := []riotee.Packet{}
	for _, dev := range devices {
		out = append(out, all[dev]...)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleQueueSize(c *gin.Context) {
	dev, ok := deviceParam(c)
	if !ok {
		return
	}
	depth, err := s.store.QueueDepth(dev)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, depth)
}

func (s *Server) handlePop(c *gin.Context) {
	dev, ok := deviceParam(c)
	if !ok {
		return
	}
	pkt, err := s.store.PopOne(dev)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pkt)
}

func (s *Server) handleDevicePackets(c *gin.Context) {
	dev, ok := deviceParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.store.DrainAll(dev))
}

func (s *Server) handleSend(c *gin.Context) {
	dev, ok := deviceParam(c)
	if !ok {
		return
	}

	var req riotee.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, &riotee.ValidationError{Field: "body", Err: err, Reason: err.Error()})
		return
	}
	pkt, err := req.Packet()
	if err != nil {
		respondError(c, err)
		return
	}

	if s.sender == nil {
		respondError(c, riotee.NewTransportClosedError("send", ""))
		return
	}
	id, err := s.sender.Send(c.Request.Context(), pkt, dev)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, riotee.SendResponse{PacketID: id})
}

func deviceParam(c *gin.Context) (riotee.DeviceID, bool) {
	dev, err := riotee.ParseDeviceID(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return riotee.DeviceID{}, false
	}
	return dev, true
}

// respondError maps an error to its status code: validation failures are the
// client's fault, unknown devices are 404 and link failures are 503.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var te *riotee.TransportError
	switch {
	case errors.Is(err, riotee.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &te), errors.Is(err, riotee.ErrTransportClosed):
		status = http.StatusServiceUnavailable
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
