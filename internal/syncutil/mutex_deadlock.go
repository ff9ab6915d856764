//go:build deadlock

// Package syncutil provides the locks guarding the packet store and the
// transceiver, instrumented by github.com/sasha-s/go-deadlock in this build.
package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

func init() {
	// A store push may legitimately wait on a full queue, but no lock in this
	// module is ever held across that wait.
	deadlock.Opts.DeadlockTimeout = 10 * time.Second
}

// Mutex wraps deadlock.Mutex.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex wraps deadlock.RWMutex.
type RWMutex struct {
	deadlock.RWMutex
}

// DeadlockDetection reports whether go-deadlock instrumentation is compiled in.
const DeadlockDetection = true
