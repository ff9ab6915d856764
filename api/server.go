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

// Package api exposes the packet store and the transceiver over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ZaparooProject/go-riotee"
	"github.com/ZaparooProject/go-riotee/internal/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// PacketStore is the read side of the packet store used by the handlers.
type PacketStore interface {
	PopOne(dev riotee.DeviceID) (riotee.Packet, error)
	DrainAll(dev riotee.DeviceID) []riotee.Packet
	DrainEvery() map[riotee.DeviceID][]riotee.Packet
	ListDevices() []riotee.DeviceID
	QueueDepth(dev riotee.DeviceID) (int, error)
}

// Sender transmits packets to devices.
type Sender interface {
	Send(ctx context.Context, pkt riotee.Packet, dev riotee.DeviceID) (uint16, error)
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithCORSOrigins allows browser clients from origins. An empty list
// disables CORS handling.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithShutdownTimeout bounds how long Serve waits for in-flight requests.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

// Server is the HTTP boundary of the gateway.
type Server struct {
	store           PacketStore
	sender          Sender
	router          *gin.Engine
	logger          zerolog.Logger
	corsOrigins     []string
	shutdownTimeout time.Duration
}

// New builds the router. sender may be nil, in which case sends fail with
// 503.
func New(store PacketStore, sender Sender, opts ...Option) *Server {
	s := &Server{
		store:           store,
		sender:          sender,
		logger:          riotee.Logger(),
		shutdownTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	metrics.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(s.logger))
	r.Use(RequestMetrics())
	if len(s.corsOrigins) > 0 {
		cfg := cors.Config{
			AllowMethods: []string{http.MethodGet, http.MethodPost},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}
		if len(s.corsOrigins) == 1 && s.corsOrigins[0] == "*" {
			cfg.AllowAllOrigins = true
		} else {
			cfg.AllowOrigins = s.corsOrigins
		}
		r.Use(cors.New(cfg))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s.router = r
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on ln until ctx ends, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/all", s.handleAllPackets)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	devices := s.router.Group("/devices")
	devices.GET("/list", s.handleListDevices)
	devices.GET("/all", s.handleAllPackets)
	devices.GET("/:id/size", s.handleQueueSize)
	devices.GET("/:id/pop", s.handlePop)
	devices.GET("/:id/all", s.handleDevicePackets)
	devices.POST("/:id/send", s.handleSend)
}
