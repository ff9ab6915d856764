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

// Command gateway runs the gateway server next to the dongle, or talks to a
// running server as a client.
//
// Usage:
//
//	gateway [-v...] [-host H] [-port P] server [-config FILE] [-device PATH] ...
//	gateway [-v...] [-host H] [-port P] client devices|fetch|send|monitor|size|pop ...
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
)

const appName = "riotee-gateway"

// verbosity counts repeated -v flags.
type verbosity int

func (v *verbosity) String() string {
	return strconv.Itoa(int(*v))
}

func (v *verbosity) Set(s string) error {
	if s == "true" {
		*v++
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid verbosity %q", s)
	}
	*v = verbosity(n)
	return nil
}

func (*verbosity) IsBoolFlag() bool { return true }

// globalOptions are accepted before the command name.
type globalOptions struct {
	host       string
	port       int
	verbose    verbosity
	verboseSet bool
	hostSet    bool
	portSet    bool
}

var errUsage = errors.New("usage")

func main() {
	os.Exit(mainWithExitCode(os.Args[1:], os.Stdout, os.Stderr))
}

func mainWithExitCode(args []string, stdout, stderr io.Writer) int {
	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, args, stdout, stderr); err != nil {
		if errors.Is(err, context.Canceled) {
			// User requested shutdown, exit cleanly
			return 0
		}
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		if errors.Is(err, errUsage) {
			_, _ = fmt.Fprintf(stderr, "%v\n", err)
			return 2
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := globalOptions{host: "0.0.0.0", port: 8000}
	fs.Var(&opts.verbose, "v", "Increase verbosity (repeat: -v warn, -v -v info, -v -v -v debug)")
	fs.StringVar(&opts.host, "host", opts.host, "Host of the API server")
	fs.IntVar(&opts.port, "port", opts.port, "Port of the API server")
	fs.Usage = func() {
		_, _ = fmt.Fprintf(stderr, "Usage: %s [flags] server|client ...\n", appName)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err //nolint:wrapcheck // flag errors are already descriptive
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "v":
			opts.verboseSet = true
		case "host":
			opts.hostSet = true
		case "port":
			opts.portSet = true
		}
	})

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return fmt.Errorf("%w: missing command", errUsage)
	}

	switch rest[0] {
	case "server":
		return runServer(ctx, &opts, rest[1:], stderr)
	case "client":
		return runClient(ctx, &opts, rest[1:], stdout, stderr)
	default:
		fs.Usage()
		return fmt.Errorf("%w: unknown command %q", errUsage, rest[0])
	}
}
