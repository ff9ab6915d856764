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
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Defaults for opening the dongle's serial port. A USB CDC port may appear a
// moment after the device enumerates, or be briefly held by ModemManager.
const (
	DefaultOpenRetries    = 3
	OpenInitialBackoff    = 100 * time.Millisecond
	OpenMaxBackoff        = 1 * time.Second
	OpenBackoffMultiplier = 2.0
	OpenJitter            = 0.1
	OpenRetryTimeout      = 10 * time.Second
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	// OnRetry is called before sleeping after a failed attempt
	OnRetry func(attempt int, err error, sleep time.Duration)
	// MaxAttempts is the maximum number of attempts (0 = no retry)
	MaxAttempts int
	// InitialBackoff is the initial backoff duration
	InitialBackoff time.Duration
	// MaxBackoff is the maximum backoff duration
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor by which the backoff increases
	BackoffMultiplier float64
	// Jitter adds up to this fraction of the backoff as random delay
	Jitter float64
	// RetryTimeout is the overall timeout for all retry attempts
	RetryTimeout time.Duration
}

// DefaultRetryConfig returns the retry configuration used for opening ports
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       DefaultOpenRetries,
		InitialBackoff:    OpenInitialBackoff,
		MaxBackoff:        OpenMaxBackoff,
		BackoffMultiplier: OpenBackoffMultiplier,
		Jitter:            OpenJitter,
		RetryTimeout:      OpenRetryTimeout,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// RetryWithConfig runs retryFunc until it succeeds, returns an error that
// IsRetryable rejects, or the attempts or timeout are exhausted.
func RetryWithConfig(ctx context.Context, config *RetryConfig, retryFunc RetryableFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	if config.MaxAttempts <= 0 {
		return retryFunc(ctx)
	}

	if config.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.RetryTimeout)
		defer cancel()
	}

	var lastErr error
	backoff := config.InitialBackoff

	for attempt := range config.MaxAttempts {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("retry context cancelled: %w", err)
		}

		err := retryFunc(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err

		if attempt < config.MaxAttempts-1 {
			sleep := jitteredSleep(backoff, config.Jitter)
			if config.OnRetry != nil {
				config.OnRetry(attempt+1, err, sleep)
			}
			if !sleepWithContext(ctx, sleep) {
				return lastErr
			}
			backoff = nextBackoff(backoff, config)
		}
	}

	return lastErr
}

func sleepWithContext(ctx context.Context, sleep time.Duration) bool {
	timer := time.NewTimer(sleep)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(backoff time.Duration, config *RetryConfig) time.Duration {
	next := time.Duration(float64(backoff) * config.BackoffMultiplier)
	if config.MaxBackoff > 0 && next > config.MaxBackoff {
		return config.MaxBackoff
	}
	return next
}

func jitteredSleep(base time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return base
	}
	return base + time.Duration(rand.Float64()*jitterFactor*float64(base)) //nolint:gosec // backoff jitter
}
