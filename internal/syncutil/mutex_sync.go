//go:build !deadlock

// Package syncutil provides the locks guarding the packet store and the
// transceiver. Plain sync primitives are used by default; building with
// -tags=deadlock swaps in github.com/sasha-s/go-deadlock so lock-order bugs
// between request handlers and the ingestion path show up in tests.
package syncutil

import "sync"

// Mutex is a sync.Mutex unless built with -tags=deadlock.
//
//nolint:gocritic // Embedding exposes Lock/Unlock directly
type Mutex struct {
	sync.Mutex
}

// RWMutex is a sync.RWMutex unless built with -tags=deadlock.
//
//nolint:gocritic // Embedding exposes the full RWMutex method set
type RWMutex struct {
	sync.RWMutex
}

// DeadlockDetection reports whether go-deadlock instrumentation is compiled in.
const DeadlockDetection = false
