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

package testing

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-bgdfu"
)

// DefaultMaxSteps bounds a Pump run.
const DefaultMaxSteps = 1 << 16

// ErrStalled is returned when the engine is active but has nothing to wait
// for.
var ErrStalled = errors.New("simulator: engine stalled")

// PumpResult summarizes a Pump run.
type PumpResult struct {
	Final       bgdfu.State
	Steps       int
	Delivered   int
	Accepted    int
	Stale       int
	Timeouts    int
	Resets      int
	Rejected    int
	CommitError error
}

// Pump drains queued responses into e until the engine goes idle, waits for
// a suppressed reset or maxSteps is used up. When the queue is empty while a
// request is outstanding, its timer is expired. Once the engine sits in
// WAIT_FOR_RESET an unsuppressed reset is delivered the way a device would
// after its reset delay.
//
// Errors returned by the engine, other than rejected duplicate triggers, end
// the run.
//
//nolint:gocognit,gocyclo,cyclop,revive // one switch per delivery kind
func (s *Simulator) Pump(e *bgdfu.Engine, maxSteps int) (PumpResult, error) {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	var res PumpResult
	for res.Steps = 0; res.Steps < maxSteps; res.Steps++ {
		st := e.State()
		res.Final = st

		if st == bgdfu.StateWaitForReset {
			if e.Diagnostics().ResetSuppressed {
				return res, nil
			}
			res.Resets++
			if _, err := e.HandleEvent(bgdfu.EventReset); err != nil {
				return res, err
			}
			continue
		}

		d, ok := s.pop()
		if !ok {
			if !st.IsActive() {
				return res, nil
			}
			seq, armed := s.expire()
			if !armed {
				return res, fmt.Errorf("%w in %s", ErrStalled, st)
			}
			res.Timeouts++
			if err := e.HandleTimeout(seq); err != nil {
				res.Final = e.State()
				return res, err
			}
			continue
		}

		res.Delivered++
		if d.trigger {
			if err := e.HandleTrigger(d.payload, s.remote); err != nil {
				if bgdfu.IsTriggerRejected(err) {
					res.Rejected++
					continue
				}
				res.Final = e.State()
				return res, err
			}
			continue
		}

		// responses for a phase that already finished are dropped by the
		// link the way a request token mismatch would be
		if d.phase != e.State().Phase() {
			res.Stale++
			continue
		}
		accepted, err := e.HandleBlock(bgdfu.NewBlock(d.number, d.payload))
		if err != nil {
			res.Final = e.State()
			if errors.Is(err, bgdfu.ErrCommitFailed) {
				res.CommitError = err
				continue
			}
			return res, err
		}
		if accepted {
			res.Accepted++
		} else {
			res.Stale++
		}
	}

	res.Final = e.State()
	return res, fmt.Errorf("simulator: step limit %d reached in %s", maxSteps, res.Final)
}
