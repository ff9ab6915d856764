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

// Package config loads the gateway server settings from a TOML file.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

// Auto selects USB discovery instead of a fixed port path.
const Auto = "auto"

// Config holds the server settings.
type Config struct {
	Host            string
	Device          string
	MalformedPolicy string
	CORSOrigins     []string
	LogLevel        zerolog.Level
	Port            int
	BaudRate        int
	QueueCapacity   int
	OpenRetries     int
}

// Default returns the settings used when no file or flag overrides them.
func Default() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8000,
		Device:          Auto,
		BaudRate:        1_000_000,
		QueueCapacity:   1024,
		MalformedPolicy: "skip",
		LogLevel:        zerolog.InfoLevel,
		OpenRetries:     3,
	}
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AutoDetect reports whether the dongle should be discovered.
func (c Config) AutoDetect() bool {
	return c.Device == "" || strings.EqualFold(c.Device, Auto)
}

type fileConfig struct {
	Host            string   `toml:"host"`
	Device          string   `toml:"device"`
	MalformedPolicy string   `toml:"malformed_policy"`
	LogLevel        string   `toml:"log_level"`
	CORSOrigins     []string `toml:"cors_origins"`
	Port            int      `toml:"port"`
	BaudRate        int      `toml:"baud_rate"`
	QueueCapacity   int      `toml:"queue_capacity"`
	OpenRetries     int      `toml:"open_retries"`
}

// Load reads path over the defaults. Keys absent from the file keep their
// default value; unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load gateway config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("load gateway config: unknown keys %s", strings.Join(keys, ", "))
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("device") {
		cfg.Device = strings.TrimSpace(raw.Device)
	}
	if meta.IsDefined("baud_rate") {
		cfg.BaudRate = raw.BaudRate
	}
	if meta.IsDefined("queue_capacity") {
		cfg.QueueCapacity = raw.QueueCapacity
	}
	if meta.IsDefined("malformed_policy") {
		cfg.MalformedPolicy = strings.ToLower(strings.TrimSpace(raw.MalformedPolicy))
	}
	if meta.IsDefined("log_level") {
		level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw.LogLevel)))
		if err != nil {
			return Config{}, fmt.Errorf("parse log_level: %w", err)
		}
		cfg.LogLevel = level
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeOrigins(raw.CORSOrigins)
	}
	if meta.IsDefined("open_retries") {
		cfg.OpenRetries = raw.OpenRetries
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.BaudRate < 1 {
		errs = append(errs, fmt.Errorf("baud_rate must be positive, got %d", c.BaudRate))
	}
	if c.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("queue_capacity must be at least 1, got %d", c.QueueCapacity))
	}
	if c.OpenRetries < 1 {
		errs = append(errs, fmt.Errorf("open_retries must be at least 1, got %d", c.OpenRetries))
	}
	switch c.MalformedPolicy {
	case "skip", "stop":
	default:
		errs = append(errs, fmt.Errorf("malformed_policy must be skip or stop, got %q", c.MalformedPolicy))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid gateway config: %w", err)
	}
	return nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		if v := strings.TrimSpace(origin); v != "" {
			out = append(out, v)
		}
	}
	return out
}
