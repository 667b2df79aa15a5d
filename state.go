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
	"fmt"

	"github.com/looplab/fsm"
)

// State is the state of a background DFU transfer.
type State uint8

const (
	// StateIdle is the quiescent state with no transfer in progress.
	StateIdle State = iota
	// StateDownloadTrigger waits for the trigger descriptor.
	StateDownloadTrigger
	// StateDownloadInitCmd downloads the init command blocks.
	StateDownloadInitCmd
	// StateDownloadFirmware downloads the firmware image blocks.
	StateDownloadFirmware
	// StateWaitForReset holds a committed image until the device is reset.
	StateWaitForReset
)

var stateNames = [...]string{
	StateIdle:             "DFU_IDLE",
	StateDownloadTrigger:  "DFU_DOWNLOAD_TRIG",
	StateDownloadInitCmd:  "DFU_DOWNLOAD_INIT_CMD",
	StateDownloadFirmware: "DFU_DOWNLOAD_FIRMWARE",
	StateWaitForReset:     "DFU_WAIT_FOR_RESET",
}

// String returns the state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("DFU_STATE(%d)", uint8(s))
}

// IsActive reports whether s is one of the download states.
func (s State) IsActive() bool {
	return s == StateDownloadTrigger || s == StateDownloadInitCmd || s == StateDownloadFirmware
}

// Phase returns the data phase downloaded in s, or PhaseNone.
func (s State) Phase() Phase {
	switch s {
	case StateDownloadInitCmd:
		return PhaseInitCmd
	case StateDownloadFirmware:
		return PhaseFirmware
	default:
		return PhaseNone
	}
}

func parseState(name string) State {
	for i, n := range stateNames {
		if n == name {
			return State(i)
		}
	}
	return StateIdle
}

// Phase identifies one of the two data download stages.
type Phase uint8

const (
	// PhaseNone is used outside the data phases.
	PhaseNone Phase = iota
	// PhaseInitCmd is the init command download.
	PhaseInitCmd
	// PhaseFirmware is the firmware image download.
	PhaseFirmware
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseInitCmd:
		return "init"
	case PhaseFirmware:
		return "firmware"
	default:
		return "none"
	}
}

// Event is an input to the state machine.
type Event uint8

const (
	// EventTransferComplete signals that the current unit (trigger or phase) is done.
	EventTransferComplete Event = iota + 1
	// EventTransferContinue advances to the next block within a phase.
	EventTransferContinue
	// EventTransferError aborts the current transfer.
	EventTransferError
	// EventReset leaves WAIT_FOR_RESET once the reset delay elapsed or was acknowledged.
	EventReset
)

var eventNames = map[Event]string{
	EventTransferComplete: "transfer_complete",
	EventTransferContinue: "transfer_continue",
	EventTransferError:    "transfer_error",
	EventReset:            "reset",
}

// String returns the event name.
func (e Event) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return fmt.Sprintf("event(%d)", uint8(e))
}

// stateMachine holds the legal transition table. Side effects live in the
// engine; the table only decides legality and tracks the current state.
type stateMachine struct {
	fsm *fsm.FSM
}

func newStateMachine() *stateMachine {
	idle := StateIdle.String()
	trig := StateDownloadTrigger.String()
	initCmd := StateDownloadInitCmd.String()
	firmware := StateDownloadFirmware.String()
	wait := StateWaitForReset.String()

	complete := EventTransferComplete.String()
	cont := EventTransferContinue.String()

	return &stateMachine{
		fsm: fsm.NewFSM(
			idle,
			fsm.Events{
				{Name: complete, Src: []string{idle}, Dst: trig},
				{Name: complete, Src: []string{trig}, Dst: initCmd},
				{Name: complete, Src: []string{initCmd}, Dst: firmware},
				{Name: complete, Src: []string{firmware}, Dst: wait},
				{Name: cont, Src: []string{initCmd}, Dst: initCmd},
				{Name: cont, Src: []string{firmware}, Dst: firmware},
				{Name: EventTransferError.String(), Src: []string{trig, initCmd, firmware}, Dst: idle},
				{Name: EventReset.String(), Src: []string{wait}, Dst: idle},
			},
			fsm.Callbacks{},
		),
	}
}

// current returns the current state.
func (m *stateMachine) current() State {
	return parseState(m.fsm.Current())
}

// can reports whether ev is legal in the current state.
func (m *stateMachine) can(ev Event) bool {
	return m.fsm.Can(ev.String())
}

// fire applies ev and returns the state before and after the transition.
// Self transitions are legal and reported with from == to.
func (m *stateMachine) fire(ev Event) (from, to State, err error) {
	from = m.current()
	if !m.can(ev) {
		return from, from, fmt.Errorf("%w: %s in %s", ErrInvalidStateTransition, ev, from)
	}

	err = m.fsm.Event(context.Background(), ev.String())
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		return from, m.current(), fmt.Errorf("%w: %s in %s: %w", ErrInvalidStateTransition, ev, from, err)
	}
	return from, m.current(), nil
}

// force moves to s regardless of the table. Used by the unconditional reset.
func (m *stateMachine) force(s State) {
	m.fsm.SetState(s.String())
}
