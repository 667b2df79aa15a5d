//go:build !deadlock

// Package syncutil holds the lock types used by the DFU engine and its adapters.
// Standard library locks are used by default. Build with -tags=deadlock to swap in
// github.com/sasha-s/go-deadlock and get lock-order reports in tests.
package syncutil

import "sync"

// Mutex is a sync.Mutex unless built with the deadlock tag.
//
//nolint:gocritic // embedded to expose Lock/Unlock
type Mutex struct {
	sync.Mutex
}

// RWMutex is a sync.RWMutex unless built with the deadlock tag.
//
//nolint:gocritic // embedded to expose Lock/Unlock/RLock/RUnlock
type RWMutex struct {
	sync.RWMutex
}
