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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"

	"github.com/ZaparooProject/go-riotee"
	"github.com/ZaparooProject/go-riotee/api"
	"github.com/ZaparooProject/go-riotee/detection"
	"github.com/ZaparooProject/go-riotee/internal/config"
	"github.com/ZaparooProject/go-riotee/internal/metrics"
	"github.com/ZaparooProject/go-riotee/internal/syncutil"
	"github.com/ZaparooProject/go-riotee/store"
	"github.com/ZaparooProject/go-riotee/transport/uart"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// serverDeps are replaced in tests.
type serverDeps struct {
	connect func(ctx context.Context, cfg config.Config, opts ...riotee.ConnectOption) (*riotee.Transceiver, error)
	listen  func(network, addr string) (net.Listener, error)
}

var defaultServerDeps = serverDeps{
	connect: connectDongle,
	listen:  net.Listen,
}

type serverFlags struct {
	configPath string
	device     string
	policy     string
	baud       int
	retries    int
	capacity   int
	sessionLog bool
}

func runServer(ctx context.Context, opts *globalOptions, args []string, stderr io.Writer) error {
	return serve(ctx, opts, args, stderr, defaultServerDeps)
}

func serve(ctx context.Context, opts *globalOptions, args []string, stderr io.Writer, deps serverDeps) error {
	cfg, sessionLog, err := serverConfig(opts, args, stderr)
	if err != nil {
		return err
	}

	if sessionLog {
		path, err := riotee.InitSessionLog()
		if err != nil {
			return fmt.Errorf("open session log: %w", err)
		}
		defer func() { _ = riotee.CloseSessionLog() }()
		_, _ = fmt.Fprintf(stderr, "Session log: %s\n", path)
	}

	logger := riotee.InitLogger(appName, cfg.LogLevel, stderr)
	if cfg.LogLevel > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	logger.Debug().
		Str("device", cfg.Device).
		Int("queue_capacity", cfg.QueueCapacity).
		Bool("deadlock_detection", syncutil.DeadlockDetection).
		Msg("gateway starting")

	st, err := store.New(store.WithCapacity(cfg.QueueCapacity))
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	depth := metrics.NewQueueDepthCollector(st.Depths)
	if err := prometheus.Register(depth); err != nil {
		return fmt.Errorf("register queue depth collector: %w", err)
	}
	defer prometheus.Unregister(depth)

	policy, err := riotee.ParseMalformedFramePolicy(cfg.MalformedPolicy)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tcv, err := deps.connect(ctx, cfg,
		riotee.WithTransceiverOptions(
			riotee.WithLogger(logger),
			riotee.WithMalformedFramePolicy(policy),
		))
	if err != nil {
		return err
	}
	defer func() {
		if err := tcv.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close dongle")
		}
	}()
	logger.Info().Str("port", tcv.Transport().Name()).Int("baud", cfg.BaudRate).Msg("dongle connected")

	ln, err := deps.listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}
	logger.Info().Str("addr", ln.Addr().String()).Msg("API listening")

	srv := api.New(st, tcv, api.WithLogger(logger), api.WithCORSOrigins(cfg.CORSOrigins...))
	return runUntilDone(ctx, logger,
		func(ctx context.Context) error { return tcv.Run(ctx, st) },
		func(ctx context.Context) error { return srv.Serve(ctx, ln) },
	)
}

// runUntilDone runs ingestion and the HTTP server until either stops or
// parent ends, then stops the other and waits for it.
func runUntilDone(parent context.Context, logger zerolog.Logger, ingest, httpServe func(context.Context) error) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	ingestErr := make(chan error, 1)
	httpErr := make(chan error, 1)
	go func() { ingestErr <- ingest(ctx) }()
	go func() { httpErr <- httpServe(ctx) }()

	var first error
	select {
	case first = <-ingestErr:
		cancel()
		if err := <-httpErr; err != nil {
			logger.Error().Err(err).Msg("API server failed")
		}
	case first = <-httpErr:
		cancel()
		if err := <-ingestErr; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("ingestion failed")
		}
	}

	if parent.Err() != nil {
		logger.Info().Msg("shutting down")
		return context.Canceled
	}
	if first == nil {
		return errors.New("gateway stopped unexpectedly")
	}
	return first
}

func connectDongle(ctx context.Context, cfg config.Config, opts ...riotee.ConnectOption) (*riotee.Transceiver, error) {
	connectOpts := append([]riotee.ConnectOption{
		riotee.WithConnectionRetries(cfg.OpenRetries),
	}, opts...)

	path := ""
	if cfg.AutoDetect() {
		connectOpts = append(connectOpts,
			riotee.WithAutoDetection(),
			riotee.WithDeviceDetector(detection.Find),
			riotee.WithTransportFromDeviceFactory(uart.FromDevice(cfg.BaudRate)))
	} else {
		path = cfg.Device
		connectOpts = append(connectOpts, riotee.WithTransportFactory(uart.FromPath(cfg.BaudRate)))
	}

	tcv, err := riotee.ConnectTransceiver(ctx, path, connectOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to dongle: %w", err)
	}
	return tcv, nil
}

// serverConfig merges defaults, the config file and flags, in that order.
func serverConfig(opts *globalOptions, args []string, stderr io.Writer) (config.Config, bool, error) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var f serverFlags
	fs.StringVar(&f.configPath, "config", "", "TOML configuration file")
	fs.StringVar(&f.device, "device", "", "Serial port of the dongle, or \"auto\" to discover it")
	fs.StringVar(&f.policy, "malformed", "", "What to do with malformed frames: skip or stop")
	fs.IntVar(&f.baud, "baud", 0, "Serial baud rate")
	fs.IntVar(&f.retries, "retries", 0, "Attempts to open the serial port")
	fs.IntVar(&f.capacity, "capacity", 0, "Packets queued per device before ingestion blocks")
	fs.BoolVar(&f.sessionLog, "session-log", false, "Write a session log file in the working directory")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, false, err //nolint:wrapcheck // flag errors are already descriptive
	}

	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return config.Config{}, false, err //nolint:wrapcheck // config errors name the file
		}
		cfg = loaded
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "device":
			cfg.Device = f.device
		case "malformed":
			cfg.MalformedPolicy = f.policy
		case "baud":
			cfg.BaudRate = f.baud
		case "retries":
			cfg.OpenRetries = f.retries
		case "capacity":
			cfg.QueueCapacity = f.capacity
		}
	})
	if opts.hostSet {
		cfg.Host = opts.host
	}
	if opts.portSet {
		cfg.Port = opts.port
	}
	if opts.verboseSet {
		cfg.LogLevel = riotee.LevelFromVerbosity(int(opts.verbose))
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, false, err //nolint:wrapcheck // already prefixed
	}
	return cfg, f.sessionLog, nil
}
