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
	"bytes"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-bgdfu"
	"github.com/ZaparooProject/go-bgdfu/internal/syncutil"
)

// ErrInjected is the error returned by injected installer faults.
var ErrInjected = errors.New("injected fault")

// RecordingInstaller keeps both phases in memory and logs every call. Its
// Fail fields inject a fault into the matching call.
type RecordingInstaller struct {
	images map[bgdfu.Phase]*bytes.Buffer

	// FailBegin makes BeginPhase fail for that phase.
	FailBegin bgdfu.Phase
	// FailEnd makes EndPhase fail for that phase.
	FailEnd bgdfu.Phase

	calls   []string
	writes  int
	commits int
	resets  int

	// FailWriteAt makes the n-th WriteBlock call fail, counting from 1.
	FailWriteAt int
	// FailCommits makes the first n Commit calls fail.
	FailCommits int

	mu        syncutil.Mutex
	phase     bgdfu.Phase
	FailReset bool
}

// NewRecordingInstaller returns an empty installer.
func NewRecordingInstaller() *RecordingInstaller {
	return &RecordingInstaller{
		images: map[bgdfu.Phase]*bytes.Buffer{
			bgdfu.PhaseInitCmd:  {},
			bgdfu.PhaseFirmware: {},
		},
	}
}

// BeginPhase implements bgdfu.PhaseHandler.
func (r *RecordingInstaller) BeginPhase(p bgdfu.Phase, size uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("begin %s %d", p, size))
	if r.FailBegin == p {
		return fmt.Errorf("begin %s: %w", p, ErrInjected)
	}
	r.phase = p
	r.images[p].Reset()
	return nil
}

// WriteBlock implements bgdfu.Installer.
func (r *RecordingInstaller) WriteBlock(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	if r.FailWriteAt > 0 && r.writes == r.FailWriteAt {
		r.calls = append(r.calls, fmt.Sprintf("write %d failed", r.writes))
		return fmt.Errorf("write %d: %w", r.writes, ErrInjected)
	}
	p := r.phase
	if p == bgdfu.PhaseNone {
		// installers without phase tracking still get their bytes
		p = bgdfu.PhaseInitCmd
	}
	r.images[p].Write(data)
	return nil
}

// EndPhase implements bgdfu.PhaseHandler.
func (r *RecordingInstaller) EndPhase(p bgdfu.Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("end %s", p))
	if r.FailEnd == p {
		return fmt.Errorf("end %s: %w", p, ErrInjected)
	}
	return nil
}

// Commit implements bgdfu.Installer.
func (r *RecordingInstaller) Commit() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits++
	if r.commits <= r.FailCommits {
		r.calls = append(r.calls, "commit failed")
		return fmt.Errorf("commit %d: %w", r.commits, ErrInjected)
	}
	r.calls = append(r.calls, "commit")
	return nil
}

// ResetDevice implements bgdfu.DeviceResetter.
func (r *RecordingInstaller) ResetDevice() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	r.calls = append(r.calls, "reset")
	if r.FailReset {
		return fmt.Errorf("reset: %w", ErrInjected)
	}
	return nil
}

// Abort implements bgdfu.Aborter.
func (r *RecordingInstaller) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "abort")
	return nil
}

// InitCmd returns the bytes written during the init command phase.
func (r *RecordingInstaller) InitCmd() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return bytes.Clone(r.images[bgdfu.PhaseInitCmd].Bytes())
}

// Firmware returns the bytes written during the firmware phase.
func (r *RecordingInstaller) Firmware() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return bytes.Clone(r.images[bgdfu.PhaseFirmware].Bytes())
}

// Calls returns the call log, such as "begin init 32" or "commit".
func (r *RecordingInstaller) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Commits returns how many times Commit was called.
func (r *RecordingInstaller) Commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commits
}

// Resets returns how many times ResetDevice was called.
func (r *RecordingInstaller) Resets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets
}

var (
	_ bgdfu.Installer      = (*RecordingInstaller)(nil)
	_ bgdfu.PhaseHandler   = (*RecordingInstaller)(nil)
	_ bgdfu.DeviceResetter = (*RecordingInstaller)(nil)
	_ bgdfu.Aborter        = (*RecordingInstaller)(nil)
)
