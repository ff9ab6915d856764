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

package riotee

import (
	"io"
	"os"
	"time"

	"github.com/ZaparooProject/go-riotee/internal/syncutil"
	"github.com/rs/zerolog"
)

var (
	logMu     syncutil.RWMutex
	pkgLogger = zerolog.Nop()
)

func init() {
	// RIOTEE_DEBUG enables debug output for library users that never call
	// InitLogger.
	if os.Getenv("RIOTEE_DEBUG") != "" {
		pkgLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(zerolog.DebugLevel).With().Timestamp().Logger()
	}
}

// InitLogger builds the process logger: human readable console output plus
// the session log file when one is open. It becomes the package logger.
func InitLogger(app string, level zerolog.Level, console io.Writer) zerolog.Logger {
	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}}
	if w := sessionWriter(); w != nil {
		writers = append(writers, w)
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Str("app", app).
		Logger()
	SetLogger(logger)
	return logger
}

// SetLogger replaces the package logger.
func SetLogger(logger zerolog.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	pkgLogger = logger
}

// Logger returns the package logger.
func Logger() zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return pkgLogger
}

// Debugf logs a debug message through the package logger.
func Debugf(format string, args ...any) {
	logger := Logger()
	logger.Debug().Msgf(format, args...)
}

// LevelFromVerbosity maps a -v count to a level: 0 error, 1 warn, 2 info,
// 3 or more debug.
func LevelFromVerbosity(verbose int) zerolog.Level {
	switch {
	case verbose <= 0:
		return zerolog.ErrorLevel
	case verbose == 1:
		return zerolog.WarnLevel
	case verbose == 2:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
