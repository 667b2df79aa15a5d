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
	"time"

	"github.com/ZaparooProject/go-bgdfu/internal/syncutil"
)

// RequestTimer is the one-shot response timer a transport arms for each
// request. Arming replaces the previous timer. The callback receives the
// sequence number it was armed with, so the engine can discard late firings.
type RequestTimer struct {
	timer *time.Timer
	mu    syncutil.Mutex
	seq   uint64
	armed bool
}

// Arm schedules fire(seq) after d, cancelling any earlier timer. fire runs on
// its own goroutine and should only post work to the engine's Loop.
func (t *RequestTimer) Arm(seq uint64, d time.Duration, fire func(seq uint64)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stopTimer(t.timer)
	t.seq = seq
	t.armed = true
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		current := t.armed && t.seq == seq
		if current {
			t.armed = false
		}
		t.mu.Unlock()
		if current {
			fire(seq)
		}
	})
}

// Cancel stops the pending timer, if any.
func (t *RequestTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	stopTimer(t.timer)
	t.timer = nil
	t.armed = false
}

// Pending returns the sequence number of the armed timer.
func (t *RequestTimer) Pending() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq, t.armed
}

// stopTimer stops timer. Timers created by AfterFunc have no channel to drain.
func stopTimer(timer *time.Timer) {
	if timer != nil {
		timer.Stop()
	}
}
