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

package bgdfu

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultLoopQueue is the default depth of the Loop work queue.
const DefaultLoopQueue = 64

// ErrLoopStopped is returned by Do once the loop has stopped.
var ErrLoopStopped = errors.New("engine loop stopped")

// Loop serializes every call into an Engine on a single goroutine. Adapters
// post block arrivals, trigger arrivals and timer expiries to it from their
// own goroutines.
type Loop struct {
	engine   *Engine
	queue    chan func(*Engine)
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewLoop creates a loop for engine with a work queue of depth entries.
func NewLoop(engine *Engine, depth int) *Loop {
	if depth <= 0 {
		depth = DefaultLoopQueue
	}
	return &Loop{
		engine:   engine,
		queue:    make(chan func(*Engine), depth),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run processes posted work until ctx is done or Stop is called. Work still
// queued when the loop stops is dropped.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("engine loop already running")
	}
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.stopChan:
			return nil
		case fn := <-l.queue:
			fn(l.engine)
		}
	}
}

// Post queues fn without waiting. It returns false if the queue is full or
// the loop has stopped.
func (l *Loop) Post(fn func(*Engine)) bool {
	select {
	case <-l.stopChan:
		return false
	default:
	}

	select {
	case l.queue <- fn:
		return true
	default:
		return false
	}
}

// Do runs fn on the loop and waits for its result.
func (l *Loop) Do(ctx context.Context, fn func(*Engine) error) error {
	result := make(chan error, 1)
	work := func(e *Engine) {
		result <- fn(e)
	}

	select {
	case l.queue <- work:
	case <-l.stopChan:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-l.stopChan:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Queue queues fn, waiting for room in the queue. It returns false only if
// the loop has stopped. Timer callbacks use it so that an expiry is never
// lost to a busy queue.
func (l *Loop) Queue(fn func(*Engine)) bool {
	select {
	case <-l.stopChan:
		return false
	default:
	}

	select {
	case l.queue <- fn:
		return true
	case <-l.stopChan:
		return false
	}
}

// Timeout returns a timer callback that queues HandleTimeout(seq) on the
// loop. A lost expiry would leave the transfer without a retry, so the
// callback waits for room in the queue.
func (l *Loop) Timeout() func(seq uint64) {
	return func(seq uint64) {
		l.Queue(func(e *Engine) {
			_ = e.HandleTimeout(seq)
		})
	}
}

// Diagnostics returns the engine snapshot without going through the queue.
func (l *Loop) Diagnostics() Snapshot {
	return l.engine.Diagnostics()
}

// Config returns the engine configuration, which never changes after New.
func (l *Loop) Config() Config {
	return l.engine.Config()
}

// Stop stops the loop. It is safe to call more than once and from work
// running on the loop. Wait on Done for Run to return.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopChan)
	})
}

// Done is closed when Run returns. It is never closed if Run was not called.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
