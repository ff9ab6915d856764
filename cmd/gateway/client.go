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
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/ZaparooProject/go-riotee"
	"github.com/ZaparooProject/go-riotee/client"
)

func runClient(ctx context.Context, opts *globalOptions, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: client needs a command: devices, fetch, send, monitor, size or pop", errUsage)
	}

	host := opts.host
	if !opts.hostSet || host == "0.0.0.0" {
		host = "localhost"
	}
	c := client.New(host, opts.port)

	fs := flag.NewFlagSet("client "+args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	device := fs.String("d", "", "Device id: base64url text or an unsigned integer")
	message := fs.String("m", "", "ASCII message to send")
	interval := fs.Duration("i", 100*time.Millisecond, "Polling interval")
	output := fs.String("o", "", "Also append packets as JSON lines to this file")
	if err := fs.Parse(args[1:]); err != nil {
		return err //nolint:wrapcheck // flag errors are already descriptive
	}

	switch args[0] {
	case "devices":
		return clientDevices(ctx, c, stdout)
	case "fetch":
		dev, err := optionalDevice(*device)
		if err != nil {
			return err
		}
		return clientFetch(ctx, c, dev, stdout, nil)
	case "send":
		dev, err := requiredDevice(*device)
		if err != nil {
			return err
		}
		id, err := c.SendASCII(ctx, dev, *message)
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
		_, _ = fmt.Fprintf(stdout, "sent packet %d to %s\n", id, dev)
		return nil
	case "monitor":
		dev, err := optionalDevice(*device)
		if err != nil {
			return err
		}
		return clientMonitor(ctx, c, dev, *interval, *output, stdout)
	case "size":
		dev, err := requiredDevice(*device)
		if err != nil {
			return err
		}
		n, err := c.QueueSize(ctx, dev)
		if err != nil {
			return fmt.Errorf("queue size: %w", err)
		}
		_, _ = fmt.Fprintln(stdout, n)
		return nil
	case "pop":
		dev, err := requiredDevice(*device)
		if err != nil {
			return err
		}
		pkt, err := c.Pop(ctx, dev)
		if err != nil {
			return fmt.Errorf("pop: %w", err)
		}
		return printPackets(stdout, nil, pkt)
	default:
		return fmt.Errorf("%w: unknown client command %q", errUsage, args[0])
	}
}

func clientDevices(ctx context.Context, c *client.Client, stdout io.Writer) error {
	devices, err := c.Devices(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	for _, dev := range devices {
		_, _ = fmt.Fprintln(stdout, dev)
	}
	return nil
}

func clientFetch(ctx context.Context, c *client.Client, dev *riotee.DeviceID, stdout, file io.Writer) error {
	pkts, err := c.Packets(ctx, dev)
	if err != nil {
		return fmt.Errorf("fetch packets: %w", err)
	}
	return printPackets(stdout, file, pkts...)
}

// clientMonitor polls for packets until ctx ends.
func clientMonitor(ctx context.Context, c *client.Client, dev *riotee.DeviceID,
	interval time.Duration, output string, stdout io.Writer,
) error {
	var file io.Writer
	if output != "" {
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // user supplied path
		if err != nil {
			return fmt.Errorf("open output: %w", err)
		}
		defer func() { _ = f.Close() }()
		buf := bufio.NewWriter(f)
		defer func() { _ = buf.Flush() }()
		file = buf
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := clientFetch(ctx, c, dev, stdout, file); err != nil {
			if ctx.Err() != nil {
				return ctx.Err() //nolint:wrapcheck // shutdown
			}
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err() //nolint:wrapcheck // shutdown
		case <-ticker.C:
		}
	}
}

func printPackets(stdout, file io.Writer, pkts ...riotee.Packet) error {
	for _, pkt := range pkts {
		line, err := json.Marshal(pkt)
		if err != nil {
			return fmt.Errorf("encode packet: %w", err)
		}
		_, _ = fmt.Fprintf(stdout, "%s\n", line)
		if file != nil {
			if _, err := fmt.Fprintf(file, "%s\n", line); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
		}
	}
	return nil
}

// parseDevice accepts the base64url text form of a device id or its value as
// an unsigned 32-bit integer.
func parseDevice(s string) (riotee.DeviceID, error) {
	dev, err := riotee.ParseDeviceID(s)
	if err == nil {
		return dev, nil
	}
	if n, numErr := strconv.ParseUint(s, 0, 32); numErr == nil {
		return riotee.DeviceIDFromUint32(uint32(n)), nil
	}
	return riotee.DeviceID{}, fmt.Errorf("invalid device %q: %w", s, err)
}

func requiredDevice(s string) (riotee.DeviceID, error) {
	if s == "" {
		return riotee.DeviceID{}, fmt.Errorf("%w: -d is required", errUsage)
	}
	return parseDevice(s)
}

func optionalDevice(s string) (*riotee.DeviceID, error) {
	if s == "" {
		return nil, nil //nolint:nilnil // no device means every device
	}
	dev, err := parseDevice(s)
	if err != nil {
		return nil, err
	}
	return &dev, nil
}
